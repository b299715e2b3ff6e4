package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"clipdrop/config"
	"clipdrop/engine"
	"clipdrop/storage"
	"clipdrop/transfer"
)

const eventBufferSize = 256

func main() {
	_ = godotenv.Load()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		logrus.WithError(err).Fatal("Startup failed while loading config")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Startup failed while parsing log level")
	}
	logrus.SetLevel(level)

	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)
	fmt.Printf("Sandbox:         %s\n", cfg.SandboxDir)
	fmt.Printf("Public Storage:  %s\n", cfg.PublicDir)

	var history transfer.HistoryStore
	if cfg.HistoryOn() {
		store, dbPath, err := storage.Open(dataDir)
		if err != nil {
			logrus.WithError(err).Fatal("Startup failed while opening database")
		}
		defer func() {
			if err := store.Close(); err != nil {
				logrus.WithError(err).Warn("Database close error")
			}
		}()
		history = store
		fmt.Printf("Database File:   %s\n", dbPath)
	}

	service, err := transfer.NewService(transfer.ServiceOptions{
		SandboxDir: cfg.SandboxDir,
		Reconcile: transfer.ReconcileOptions{
			PublicDir:         cfg.PublicDir,
			BufferSize:        cfg.CopyBufferSize,
			MaxRenameAttempts: cfg.MaxRenameAttempts,
			Workers:           cfg.ReconcileWorkers,
			Verify:            cfg.VerifyEnabled(),
		},
		History: history,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Startup failed while building transfer service")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := engine.NewChannelSink(ctx, eventBufferSize)
	server, err := engine.Listen(cfg.ListenAddress, sink)
	if err != nil {
		logrus.WithError(err).Fatal("Startup failed while starting engine listener")
	}
	fmt.Printf("Engine Address:  %s\n", server.Addr())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Run(groupCtx, sink.Events())
	})
	group.Go(func() error {
		logEngineErrors(groupCtx, server.Errors())
		return nil
	})

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	if err := server.Close(); err != nil {
		logrus.WithError(err).Warn("Engine listener close error")
	}
	if err := group.Wait(); err != nil {
		logrus.WithError(err).Error("Transfer service stopped with error")
	}

	for _, record := range service.SnapshotRecords() {
		logrus.WithFields(logrus.Fields{
			"file_name": record.FileName,
			"status":    record.Status.String(),
		}).Debug("Transfer state at shutdown")
	}
}

func logEngineErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logrus.WithError(err).Debug("Engine stream error")
		}
	}
}
