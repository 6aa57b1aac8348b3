// lirc-watch shows lircd button presses live in the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caprica/lircj/internal/config"
	"github.com/caprica/lircj/internal/lircd"
	"github.com/caprica/lircj/internal/logging"
	"github.com/caprica/lircj/internal/relay"
	"github.com/caprica/lircj/internal/watch"
	"github.com/caprica/lircj/pkg/lirc"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

const subscriptionBuffer = 64

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var overrides config.Overrides
	var logFile, relayURL, token string
	flagSet := pflag.NewFlagSet("lirc-watch", pflag.ContinueOnError)
	overrides.AddFlags(flagSet)
	flagSet.StringVar(&logFile, "log-file", "", "write log records to this file (the terminal belongs to the viewer)")
	flagSet.StringVar(&relayURL, "url", "", "watch a remote lirc-bridge relay (e.g. ws://pi.local:8765/ws) instead of the local socket")
	flagSet.StringVar(&token, "token", "", "relay auth token (defaults to relay.auth_token)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := overrides.Resolve()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logOutput, closeLog, err := openLog(logFile)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := logging.New(logOutput, cfg.Log.Level, cfg.Log.Format)

	if relayURL != "" {
		if token == "" {
			token = cfg.Relay.AuthToken
		}
		return watchRelay(relayURL, token, logger)
	}

	bridge := lirc.New(cfg.Lirc.Socket,
		lirc.WithRepeatThreshold(cfg.Lirc.RepeatThreshold),
		lirc.WithLogger(logger),
	)
	events, sub := bridge.Subscribe(subscriptionBuffer)
	defer sub.Cancel()

	ctx := context.Background()
	if err := bridge.Start(ctx); err != nil {
		hint := lircd.Diagnose(ctx, cfg.Lirc.Socket, cfg.Lirc.ProcessNames)
		return fmt.Errorf("%w (%s)", err, hint)
	}
	defer bridge.Release()

	program := tea.NewProgram(watch.New(bridge, events), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// watchRelay shows presses received from a remote relay, reconnecting as
// needed.
func watchRelay(wsURL, token string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status, err := relay.FetchStatus(ctx, wsURL, token)
	if err != nil {
		return fmt.Errorf("contacting relay: %w", err)
	}
	logger.Info("relay reachable", "socket", status.Socket, "state", status.State)

	client := relay.NewClient(wsURL, token, logger)
	events := make(chan lirc.Event, subscriptionBuffer)
	go client.Run(ctx, events)

	program := tea.NewProgram(watch.New(client, events), tea.WithAltScreen())
	_, err = program.Run()
	cancel()
	<-client.Done()
	return err
}

// openLog returns where log records go. Without a file they are discarded,
// since stderr would corrupt the alternate screen.
func openLog(path string) (*os.File, func(), error) {
	if path == "" {
		devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, nil, err
		}
		return devNull, func() { devNull.Close() }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
