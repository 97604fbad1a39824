package configs

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tshare/publicroom/internal/infrastructure/env"
)

type Config struct {
	HTTP         HTTPConfig         `koanf:"http"`
	RateLimiter  RateLimiterConfig  `koanf:"rateLimiter"`
	MessageStore MessageStoreConfig `koanf:"message_store"`
	RoomStore    RoomStoreConfig    `koanf:"room_store"`
	Rooms        RoomsConfig        `koanf:"rooms"`
	Logger       LoggerConfig       `koanf:"logger"`
	Tracing      TracingConfig      `koanf:"tracing"`
	Client       ClientConfig       `koanf:"client"`
}

type HTTPConfig struct {
	Host           string        `koanf:"host"`
	Port           uint16        `koanf:"port"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
}

type RateLimiterConfig struct {
	RequestsPerTimeFrame int           `koanf:"requestsPerTimeFrame"`
	TimeFrame            time.Duration `koanf:"timeFrame"`
	MessagesPerTimeFrame int           `koanf:"messagesPerTimeFrame"`
	MessageTimeFrame     time.Duration `koanf:"messageTimeFrame"`
}

type MessageStoreConfig struct {
	Capacity uint `koanf:"capacity"`
}

type RoomStoreConfig struct {
	Capacity   uint          `koanf:"capacity"`
	IdleExpiry time.Duration `koanf:"idle_expiry"`
}

type RoomsConfig struct {
	MaxParticipants  int        `koanf:"max_participants"`
	MaxMessageLength int        `koanf:"max_message_length"`
	Seed             []SeedRoom `koanf:"seed"`
}

type SeedRoom struct {
	Code   string `koanf:"code"`
	Name   string `koanf:"name"`
	Active bool   `koanf:"active"`
}

type LoggerConfig struct {
	FilePath string `koanf:"file_path"`
	Encoding string `koanf:"encoding"`
	Level    string `koanf:"level"`
	Logger   string `koanf:"logger"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
	Endpoint    string `koanf:"endpoint"`
}

type ClientConfig struct {
	BaseURL         string          `koanf:"base_url"`
	SocketURLs      []string        `koanf:"socket_urls"`
	Locale          string          `koanf:"locale"`
	NameStorePath   string          `koanf:"name_store_path"`
	ValidateTimeout time.Duration   `koanf:"validate_timeout"`
	JoinTimeout     time.Duration   `koanf:"join_timeout"`
	AckTimeout      time.Duration   `koanf:"ack_timeout"`
	DialTimeout     time.Duration   `koanf:"dial_timeout"`
	IdleTimeout     time.Duration   `koanf:"idle_timeout"`
	TypingTTL       time.Duration   `koanf:"typing_ttl"`
	TypingIdle      time.Duration   `koanf:"typing_idle"`
	Reconnect       ReconnectConfig `koanf:"reconnect"`
}

type ReconnectConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load from YAML file if it exists
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP defaults
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.allowed_origins", []string{"*"})

	// Rate limiter defaults
	setDefault(k, "rateLimiter.requestsPerTimeFrame", 60)
	setDefault(k, "rateLimiter.timeFrame", 5*time.Second)
	setDefault(k, "rateLimiter.messagesPerTimeFrame", 10)
	setDefault(k, "rateLimiter.messageTimeFrame", 5*time.Second)

	// Store defaults
	setDefault(k, "room_store.capacity", 100)
	setDefault(k, "room_store.idle_expiry", time.Hour)
	setDefault(k, "message_store.capacity", 100)

	// Room limits
	setDefault(k, "rooms.max_participants", 50)
	setDefault(k, "rooms.max_message_length", 2000)

	// Logger defaults
	setDefault(k, "logger.encoding", "json")
	setDefault(k, "logger.level", "info")
	setDefault(k, "logger.logger", "zap")

	// Tracing defaults
	setDefault(k, "tracing.enabled", false)
	setDefault(k, "tracing.service_name", "publicroom")
	setDefault(k, "tracing.environment", "development")
	setDefault(k, "tracing.endpoint", "http://localhost:4318/v1/traces")

	// Client defaults
	setDefault(k, "client.base_url", "http://localhost:8080")
	setDefault(k, "client.locale", "en")
	setDefault(k, "client.validate_timeout", 10*time.Second)
	setDefault(k, "client.join_timeout", 8*time.Second)
	setDefault(k, "client.ack_timeout", 5*time.Second)
	setDefault(k, "client.dial_timeout", 10*time.Second)
	setDefault(k, "client.idle_timeout", 60*time.Second)
	setDefault(k, "client.typing_ttl", 3*time.Second)
	setDefault(k, "client.typing_idle", time.Second)
	setDefault(k, "client.reconnect.max_attempts", 10)
	setDefault(k, "client.reconnect.initial_delay", time.Second)
	setDefault(k, "client.reconnect.max_delay", 30*time.Second)
	setDefault(k, "client.reconnect.multiplier", 2.0)
}

func applyEnvOverrides(k *koanf.Koanf) {
	// HTTP config from env
	if host := env.GetString("HTTP_HOST", ""); host != "" {
		k.Set("http.host", host)
	}
	if port := env.GetInt("HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if readTimeout := env.GetInt("HTTP_READ_TIMEOUT_SECONDS", 0); readTimeout > 0 {
		k.Set("http.read_timeout", time.Duration(readTimeout)*time.Second)
	}
	if writeTimeout := env.GetInt("HTTP_WRITE_TIMEOUT_SECONDS", 0); writeTimeout > 0 {
		k.Set("http.write_timeout", time.Duration(writeTimeout)*time.Second)
	}

	// Rate limiter config from env
	if requests := env.GetInt("RATE_LIMIT_REQUESTS_PER_TIME_FRAME", 0); requests > 0 {
		k.Set("rateLimiter.requestsPerTimeFrame", requests)
	}
	if messages := env.GetInt("RATE_LIMIT_MESSAGES_PER_TIME_FRAME", 0); messages > 0 {
		k.Set("rateLimiter.messagesPerTimeFrame", messages)
	}

	// Store config from env
	if roomCapacity := env.GetInt("ROOM_STORE_CAPACITY", 0); roomCapacity > 0 {
		k.Set("room_store.capacity", uint(roomCapacity))
	}
	if messageCapacity := env.GetInt("MESSAGE_STORE_CAPACITY", 0); messageCapacity > 0 {
		k.Set("message_store.capacity", uint(messageCapacity))
	}
	if maxParticipants := env.GetInt("ROOM_MAX_PARTICIPANTS", 0); maxParticipants > 0 {
		k.Set("rooms.max_participants", maxParticipants)
	}

	// Logger config from env
	if level := env.GetString("LOGGER_LEVEL", ""); level != "" {
		k.Set("logger.level", level)
	}
	if logger := env.GetString("LOGGER_LOGGER", ""); logger != "" {
		k.Set("logger.logger", logger)
	}
	if filePath := env.GetString("LOGGER_FILE_PATH", ""); filePath != "" {
		k.Set("logger.file_path", filePath)
	}

	// Tracing config from env
	if endpoint := env.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
		k.Set("tracing.enabled", true)
	}
	if environment := env.GetString("ENVIRONMENT", ""); environment != "" {
		k.Set("tracing.environment", environment)
	}

	// Client config from env
	if baseURL := env.GetString("PUBLICROOM_BASE_URL", ""); baseURL != "" {
		k.Set("client.base_url", strings.TrimRight(baseURL, "/"))
	}
	if locale := env.GetString("PUBLICROOM_LOCALE", ""); locale != "" {
		k.Set("client.locale", locale)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
