package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"roomdrop/config"
	"roomdrop/discovery"
	"roomdrop/gateway"
	"roomdrop/models"
	"roomdrop/session"
	"roomdrop/storage"
	"roomdrop/transfer"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while loading config")
	}

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while resolving data directory")
	}

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while opening database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()

	client := gateway.New(cfg.GatewayURL, logger)

	sess, err := session.New(session.Options{
		Gateway:    client,
		DeviceName: cfg.DeviceName,
		DeviceType: cfg.DeviceType,
		Username:   cfg.Username,
		Logger:     logger,
		OnAdvisory: func(message string) {
			fmt.Println("Notice:", message)
		},
		OnError: func(message string) {
			fmt.Println("Error:", message)
		},
		OnUsernameChange: func(username string) {
			cfg.Username = username
			if err := config.Save(cfgPath, cfg); err != nil {
				logger.Warn().Err(err).Msg("persisting username failed")
			}
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while creating session")
	}

	coordinator, err := transfer.NewCoordinator(transfer.Options{
		Gateway:       client,
		History:       store,
		DownloadsDir:  config.DownloadsDir(dataDir),
		LocalDeviceID: cfg.DeviceID,
		Logger:        logger,
		OnRequest: func(request models.TransferRequest) {
			fmt.Printf("Incoming file: %s (%d bytes) from %s\n", request.FileName, request.FileSize, request.FromUserName)
		},
		OnError: func(message string) {
			fmt.Println("Error:", message)
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while creating transfer coordinator")
	}
	defer coordinator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess.EnsureRoom(ctx)
	state := sess.Current()

	fmt.Printf("Device:          %s (%s)\n", cfg.DeviceName, cfg.DeviceType)
	fmt.Printf("Username:        %s\n", state.Username)
	fmt.Printf("Room Code:       %s\n", state.RoomCode)
	if state.LocalMode {
		fmt.Printf("Mode:            local fallback\n")
	}
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Database File:   %s\n", dbPath)

	presence, err := discovery.NewPresencePoller(discovery.PresenceConfig{
		LocalDeviceID: state.UserID,
		RoomCode:      state.RoomCode,
		InRoom:        sess.InRoom,
		Logger:        logger,
		Fetch: func(fetchCtx context.Context) (*gateway.DeviceList, error) {
			return client.RoomDevices(fetchCtx, sess.Current().RoomCode)
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while creating presence poller")
	}
	presence.Start()
	defer presence.Stop()
	go logPresenceEvents(logger, presence.Events())

	requests, err := transfer.NewRequestPoller(coordinator, transfer.RequestPollerConfig{
		InRoom: sess.InRoom,
		Logger: logger,
		Fetch: func(fetchCtx context.Context) ([]gateway.PendingRequest, error) {
			return client.PendingRequests(fetchCtx, sess.Current().UserID)
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed while creating request poller")
	}
	requests.Start()
	defer requests.Stop()

	lanConfig := discovery.LANConfig{
		SelfDeviceID: cfg.DeviceID,
		DeviceName:   cfg.DeviceName,
		DeviceType:   cfg.DeviceType,
		Username:     state.Username,
		RoomCode:     state.RoomCode,
		Logger:       logger,
	}
	if broadcaster, err := discovery.StartBroadcaster(lanConfig); err != nil {
		logger.Warn().Err(err).Msg("LAN broadcast unavailable")
	} else {
		defer broadcaster.Stop()
	}
	if scanner, err := discovery.NewLANScanner(lanConfig); err != nil {
		logger.Warn().Err(err).Msg("LAN scan unavailable")
	} else {
		scanner.Start()
		defer scanner.Stop()
	}

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

func logPresenceEvents(logger zerolog.Logger, events <-chan discovery.Event) {
	for event := range events {
		switch event.Type {
		case discovery.EventDeviceUpserted:
			logger.Info().
				Str("device_id", event.Device.ID).
				Str("name", event.Device.Name).
				Str("user", event.Device.UserName).
				Msg("device present")
		case discovery.EventDeviceRemoved:
			logger.Info().Str("device_id", event.Device.ID).Msg("device left")
		}
	}
}
