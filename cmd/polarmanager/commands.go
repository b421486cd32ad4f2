package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/polarsystems/polarmanager"
	"github.com/spf13/cobra"
)

var version = "dev"

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "polarmanager",
		Short:         "Supervises a fleet of self-hosted game servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServe(), buildVersion())
	return root
}

func buildVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("polarmanager " + version)
		},
	}
}

func buildServe() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "path to config file")
	return cmd
}

func serve(configPath string) error {
	cfg, err := polarmanager.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := cfg.Log.New()
	if err := polarmanager.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mgr := polarmanager.New(cfg, log)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		mgr.Loop()
	}()

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	if cfg.Relay.Enabled {
		rc := polarmanager.NewRelay(cfg.Relay.URL, cfg.Relay.Token, cfg.ClientID, log)
		go rc.Loop(relayCtx, mgr.Bus())
	}

	mgr.StartAll()

	addr := net.JoinHostPort(cfg.HTTPBind, strconv.Itoa(cfg.HTTPPort))
	srv := polarmanager.NewHTTPServer(addr, mgr, cfg.SharedSecret)
	httpErr := make(chan error, 1)
	go func() { httpErr <- srv.ListenAndServe() }()
	log.Info("serving", "addr", addr, "servers", len(cfg.Servers))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case err := <-httpErr:
		log.Error("http server exited", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	mgr.StopLoop()
	relayCancel()
	mgr.StopAllServers("shutdown")
	<-loopDone
	return nil
}
