// Command roomchat is a line-based client for public rooms.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/tshare/publicroom/internal/client/namestore"
	"github.com/tshare/publicroom/internal/client/roomjoin"
	"github.com/tshare/publicroom/internal/client/session"
	"github.com/tshare/publicroom/internal/client/transport"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/configs"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
)

const appName = "roomchat"

func main() {
	var (
		configFlag = pflag.StringP("config", "c", "", "path to the config file")
		roomFlag   = pflag.StringP("room", "r", "", "room code or share link")
		nameFlag   = pflag.StringP("name", "n", "", "display name (defaults to the last one used)")
		localeFlag = pflag.String("locale", "", "language for room notices (en, es)")
	)
	pflag.Parse()

	if err := run(*configFlag, *roomFlag, *nameFlag, *localeFlag); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, room, name, locale string) error {
	cfg, err := configs.Load(configs.DetermineConfigPath(configPath))
	if err != nil {
		return err
	}
	client := cfg.Client
	if locale != "" {
		client.Locale = locale
	}

	// stderr belongs to the chat, so logs go to a file or are kept quiet
	level := cfg.Logger.Level
	if cfg.Logger.FilePath == "" {
		level = "error"
	}
	logger, err := logging.NewLogger(&logging.LoggerConfig{
		AppName:  appName,
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    level,
		Logger:   cfg.Logger.Logger,
	})
	if err != nil {
		return err
	}
	logger.Init()

	socketURLs := client.SocketURLs
	if len(socketURLs) == 0 {
		socketURLs = []string{socketURL(client.BaseURL)}
	}
	transports := make([]transport.Transport, 0, len(socketURLs))
	for _, u := range socketURLs {
		transports = append(transports, transport.NewWebSocketTransport(u, client.IdleTimeout))
	}

	link := transport.NewLink(transport.Config{
		Transports:          transports,
		DialTimeout:         client.DialTimeout,
		MaxAttempts:         client.Reconnect.MaxAttempts,
		InitialDelay:        client.Reconnect.InitialDelay,
		MaxDelay:            client.Reconnect.MaxDelay,
		Multiplier:          client.Reconnect.Multiplier,
		RandomizationFactor: 0.5,
		Logger:              logger,
	})

	sess := session.New(
		link,
		roomjoin.NewHTTPValidator(client.BaseURL, client.ValidateTimeout),
		namestore.NewFile(nameStorePath(client.NameStorePath)),
		session.Options{
			BaseURL:     client.BaseURL,
			Locale:      client.Locale,
			JoinTimeout: client.JoinTimeout,
			AckTimeout:  client.AckTimeout,
			TypingTTL:   client.TypingTTL,
			TypingIdle:  client.TypingIdle,
		},
		logger,
		nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Leave()

	con, err := openConsole(sess.Keystroke)
	if err != nil {
		return err
	}
	defer con.restore()
	out := con.out

	if name == "" {
		name = sess.StoredName()
	}
	if name == "" {
		if name, err = con.ask("Your name: "); err != nil {
			return err
		}
	}
	if room == "" {
		if room, err = con.ask("Room code or link: "); err != nil {
			return err
		}
	}

	code, err := session.ResolveCode(room)
	if err != nil {
		return errors.New(domain.UserMessage(err))
	}

	fmt.Fprintf(out, "Joining %s as %s...\n", code, name)
	if err := sess.Join(ctx, code, name); err != nil {
		return errors.New(domain.UserMessage(err))
	}

	if con.interactive {
		con.prompt(chatPrompt)
	}
	go render(out, sess.Updates())
	return readInput(ctx, con, sess)
}

func readInput(ctx context.Context, con *console, sess *session.Session) error {
	out := con.out
	for {
		raw, err := con.readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line := strings.TrimSpace(raw)
		switch line {
		case "":
			sess.StopTyping()
			continue
		case "/quit", "/leave":
			return nil
		case "/retry":
			sess.Retry()
			continue
		case "/link":
			fmt.Fprintln(out, sess.View().ShareURL)
			continue
		case "/who":
			for _, p := range sess.View().Participants {
				fmt.Fprintf(out, "  %s\n", p.Username)
			}
			continue
		}

		if err := sess.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "! %s\n", domain.UserMessage(err))
		}
	}
}

// render prints what changed between consecutive views.
func render(out io.Writer, updates <-chan session.View) {
	var (
		epoch   uint64
		printed int
		conn    = domain.Connected
		typing  string
		lastErr string
	)

	for v := range updates {
		if v.Epoch != epoch && v.Joined {
			epoch = v.Epoch
			printed = 0
			fmt.Fprintf(out, "-- %s (%d online) --\n", v.Room.Name, len(v.Participants))
		}
		for _, m := range v.Messages[min(printed, len(v.Messages)):] {
			fmt.Fprintln(out, formatMessage(m))
		}
		printed = len(v.Messages)

		if v.Connection != conn {
			conn = v.Connection
			switch {
			case v.GaveUp:
				fmt.Fprintln(out, "! connection lost, type /retry to reconnect")
			case conn == domain.Degraded:
				fmt.Fprintln(out, "! server is not responding")
			default:
				fmt.Fprintf(out, "! %s\n", conn)
			}
		}

		if t := typingLine(v.Typing); t != typing {
			typing = t
			if t != "" {
				fmt.Fprintln(out, t)
			}
		}

		if msg := v.ErrorMessage(); msg != lastErr {
			lastErr = msg
			if msg != "" {
				fmt.Fprintf(out, "! %s\n", msg)
			}
		}
	}
}

func formatMessage(m domain.Message) string {
	ts := m.Timestamp.Local().Format("15:04")
	if !m.IsChat() {
		return fmt.Sprintf("[%s] * %s", ts, m.Text)
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, m.Username, m.Text)
	if m.Pending {
		line += " (not sent)"
	}
	return line
}

func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	}
	return strings.Join(names, ", ") + " are typing..."
}

// socketURL maps http(s)://host to ws(s)://host/socket.
func socketURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	return u.String()
}

func nameStorePath(configured string) string {
	if configured != "" {
		return configured
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "publicroom", "settings.yaml")
}
