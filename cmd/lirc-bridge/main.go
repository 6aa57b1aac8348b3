// lirc-bridge connects to lircd, prints every button press as
// "button -> remote -> repeat" and optionally relays presses to WebSocket
// clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caprica/lircj/internal/config"
	"github.com/caprica/lircj/internal/lircd"
	"github.com/caprica/lircj/internal/logging"
	"github.com/caprica/lircj/internal/relay"
	"github.com/caprica/lircj/pkg/lirc"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var overrides config.Overrides
	flagSet := pflag.NewFlagSet("lirc-bridge", pflag.ContinueOnError)
	overrides.AddFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := overrides.Resolve()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger, stdout)
}

// serve runs the bridge until ctx is cancelled or lircd goes away.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer) error {
	bridge := lirc.New(cfg.Lirc.Socket,
		lirc.WithRepeatThreshold(cfg.Lirc.RepeatThreshold),
		lirc.WithLogger(logger),
	)
	bridge.AddListener(printer(stdout))

	var broadcaster *relay.Broadcaster
	relayErr := make(chan error, 1)
	if cfg.Relay.Enabled {
		broadcaster = relay.NewBroadcaster(cfg.Relay.ClientBuffer, cfg.Relay.MaxClients, logger)
		defer broadcaster.Close()
		bridge.AddListener(broadcaster)

		server := relay.NewServer(cfg, bridge, broadcaster, logger)
		go func() {
			relayErr <- relay.ListenAndServe(ctx, cfg.Relay.Host, cfg.Relay.Port, server.Handler(), logger)
		}()
	}

	if err := bridge.Start(ctx); err != nil {
		hint := lircd.Diagnose(ctx, cfg.Lirc.Socket, cfg.Lirc.ProcessNames)
		return fmt.Errorf("%w (%s)", err, hint)
	}
	defer bridge.Release()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		bridge.Release()
		return nil
	case <-bridge.Done():
		return bridge.Err()
	case err := <-relayErr:
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	}
}

func printer(w io.Writer) lirc.Listener {
	return lirc.ListenerFunc(func(buttonName, remoteControlName string, repeatCount int) {
		fmt.Fprintf(w, "%s -> %s -> %d\n", buttonName, remoteControlName, repeatCount)
	})
}
