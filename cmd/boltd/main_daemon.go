package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smallorange/bolt/internal/bolt"
	"github.com/smallorange/bolt/internal/daemonconfig"
	"github.com/smallorange/bolt/internal/ipc"
	boltlogger "github.com/smallorange/bolt/internal/logger"
	"github.com/smallorange/bolt/internal/store/sqlite"
	"github.com/smallorange/bolt/internal/sysfs"
	"github.com/smallorange/bolt/internal/udevmon"
)

type cmdDaemon struct {
	global *cmdGlobal
}

func (c *cmdDaemon) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.RunE = c.run
	return cmd
}

func (c *cmdDaemon) run(cmd *cobra.Command, args []string) error {
	cfg, err := daemonconfig.Load(c.global.flagConfig)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := boltlogger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log_level: %w", err)
	}

	log, err := boltlogger.New(cfg.LogFile, level)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	logEntry := log.Entry()
	log.Info("starting boltd", logrus.Fields{"config": c.global.flagConfig})

	if err := os.MkdirAll(cfg.StoreDir, 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	store, err := sqlite.Open(filepath.Join(cfg.StoreDir, "devices.db"))
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon, err := udevmon.New(ctx, logEntry, cfg.UdevBufferBytes)
	if err != nil {
		return fmt.Errorf("starting udev monitor: %w", err)
	}

	sink := ipc.NewSink(logEntry)

	manager, err := bolt.NewManager(bolt.Config{
		Store:      store,
		Sink:       sink,
		Events:     mon,
		Authorizer: mon,
		Log:        logEntry,
		DMI:        sysfs.NewFallbackDMI(),
		Workers:    cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("constructing manager: %w", err)
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting manager: %w", err)
	}
	defer manager.Close()

	sink.SetController(manager)

	var httpServer *http.Server
	if cfg.DebugListen != "" {
		httpServer = &http.Server{Addr: cfg.DebugListen, Handler: sink.Router()}
		go func() {
			logEntry.WithField("addr", cfg.DebugListen).Info("serving introspection endpoint")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logEntry.WithError(err).Error("introspection server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down boltd", nil)
	if httpServer != nil {
		httpServer.Close()
	}
	cancel()
	return nil
}
