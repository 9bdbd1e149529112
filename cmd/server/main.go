package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/linechat/internal/chatlog"
	"github.com/Tyrowin/linechat/internal/server"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

type flags struct {
	configPath string
	port       string
	httpPort   string
	logFile    string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "linechat-server",
		Short:         "Broadcast chat server over newline-delimited TCP",
		Long:          `Accepts chat clients on a TCP port, broadcasts every line to all other participants and appends it to a timestamped chat log. An optional WebSocket gateway attaches browser clients to the same room.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&f.port, "port", "", "TCP listen address (default \":12345\")")
	cmd.Flags().StringVar(&f.httpPort, "http-port", "", "WebSocket gateway listen address, \"off\" to disable (default \":8080\")")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "chat log path (default \"chat_log.txt\")")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	return cmd
}

// run owns every resource so deferred cleanup executes before the process exits.
func run(cmd *cobra.Command, f flags) error {
	cfg, err := server.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	applyFlags(cmd, f, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logs.GetLoggerFromString(cfg.LogLevel)

	svc := server.NewService(*cfg, chatlog.NewFileSink(cfg.LogFile), log)
	if err := svc.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	var httpServer *http.Server
	if cfg.HTTPPort != "" {
		httpServer = server.CreateServer(cfg.HTTPPort, server.SetupRoutes(svc))
		go func() {
			if err := server.StartServer(httpServer, log); err != nil {
				errChan <- fmt.Errorf("WebSocket gateway error: %w", err)
			}
		}()
	}

	go func() {
		if err := svc.Serve(ctx); err != nil && !errors.Is(err, server.ErrServiceClosed) {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case runErr = <-errChan:
		log.Error("Server stopped", "error", runErr)
	}

	if httpServer != nil {
		_ = server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
	}
	if err := svc.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("Chat service did not drain in time", "error", err)
	}

	log.Info("Program stopped cleanly")
	return runErr
}

func applyFlags(cmd *cobra.Command, f flags, cfg *server.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort = f.httpPort
		if f.httpPort == "off" {
			cfg.HTTPPort = ""
		}
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	cfg.Sanitize()
}
