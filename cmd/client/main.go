package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/linechat/internal/client"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		name     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "linechat-client",
		Short:         "Chat from the terminal",
		Long:          `Connects to a linechat server, announces NAME and relays stdin lines as chat messages while printing everything the room broadcasts.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(addr, name, logLevel)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:12345", "server address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func run(addr, name, logLevel string) error {
	log := logs.GetLoggerFromString(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	c, err := client.Dial(dialCtx, addr, name, log)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	go relayStdin(c)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.Messages():
			if !ok {
				if err := c.Err(); err != nil {
					return fmt.Errorf("connection lost: %w", err)
				}
				color.Gray.Println("Disconnected from server.")
				return nil
			}
			render(line)
		}
	}
}

func relayStdin(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := c.Send(scanner.Text()); err != nil {
			color.Red.Printf("send failed: %v\n", err)
			return
		}
	}
	_ = c.Close()
}

func render(line string) {
	if client.IsAnnouncement(line) {
		color.Cyan.Println(line)
		return
	}
	fmt.Println(line)
}
