package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/infrastructure/configs"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/infrastructure/metrics"
	"github.com/tshare/publicroom/internal/infrastructure/ratelimiter"
	"github.com/tshare/publicroom/internal/infrastructure/repository"
	"github.com/tshare/publicroom/internal/infrastructure/tracing"
	"github.com/tshare/publicroom/internal/infrastructure/ws"
	"github.com/tshare/publicroom/internal/presentation/api"
	"github.com/tshare/publicroom/internal/presentation/handler/health"
	"github.com/tshare/publicroom/internal/presentation/handler/messages"
	"github.com/tshare/publicroom/internal/presentation/handler/rooms"
)

const appName = "publicroom"

func main() {
	configFlag := pflag.StringP("config", "c", "", "path to the config file")
	pflag.Parse()

	cfg, err := configs.Load(configs.DetermineConfigPath(*configFlag))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.LoggerConfig{
		AppName:  appName,
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init()

	ctx := context.Background()
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to initialise tracing", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	clk := clock.Real()
	m := metrics.New()

	messageRepository := repository.NewMessageRepository(cfg.MessageStore.Capacity)
	roomRepository := repository.NewRoomRepository(cfg.RoomStore.Capacity, cfg.RoomStore.IdleExpiry, clk,
		repository.WithEvictHook(func(code string) {
			_ = messageRepository.DeleteRoom(context.Background(), code)
			logger.Info(logging.Room, logging.Eviction, "evicted room to make space", map[logging.ExtraKey]any{
				logging.RoomCode: code,
			})
		}),
	)
	seedRooms(ctx, roomRepository, cfg.Rooms.Seed, logger)

	requestLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.RequestsPerTimeFrame, cfg.RateLimiter.TimeFrame, clk)
	defer requestLimiter.Close()
	messageLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.MessagesPerTimeFrame, cfg.RateLimiter.MessageTimeFrame, clk)
	defer messageLimiter.Close()

	core := ws.NewCore(ws.Options{
		MaxParticipants:  cfg.Rooms.MaxParticipants,
		MaxMessageLength: cfg.Rooms.MaxMessageLength,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
	}, roomRepository, messageRepository, messageLimiter, logger, m, clk)

	app := api.NewApplication(
		*cfg,
		rooms.NewHandler(roomRepository, core, logger),
		health.NewHandler(core),
		messages.NewHandler(roomRepository, messageRepository, logger),
		logger,
		requestLimiter,
		m,
	)
	app.OnShutdown(core.Shutdown)

	if err := app.Run(app.Mount()); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "server stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func seedRooms(ctx context.Context, repo domain.RoomRepository, seeds []configs.SeedRoom, logger logging.Logger) {
	for _, seed := range seeds {
		room, err := domain.NewRoomWithCode(seed.Code, seed.Name)
		if err != nil {
			logger.Warn(logging.Room, logging.Startup, "skipping invalid seed room", map[logging.ExtraKey]any{
				logging.RoomCode:     seed.Code,
				logging.ErrorMessage: err.Error(),
			})
			continue
		}
		room.Active = seed.Active

		if err := repo.Create(ctx, room); err != nil && !errors.Is(err, domain.ErrRoomAlreadyExists) {
			logger.Warn(logging.Room, logging.Startup, "failed to seed room", map[logging.ExtraKey]any{
				logging.RoomCode:     room.Code,
				logging.ErrorMessage: err.Error(),
			})
			continue
		}
		// Seeded rooms stay for the life of the process.
		if err := repo.Pin(ctx, room.Code); err != nil {
			logger.Warn(logging.Room, logging.Startup, "failed to pin seed room", map[logging.ExtraKey]any{
				logging.RoomCode:     room.Code,
				logging.ErrorMessage: err.Error(),
			})
		}
		logger.Info(logging.Room, logging.Startup, "seeded room", map[logging.ExtraKey]any{
			logging.RoomCode: room.Code,
		})
	}
}
