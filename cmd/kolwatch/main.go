package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"kolwatch/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := app.New(cfgPath)
	go notifySystemd(ctx, a.Ready(), a.Healthy)

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// notifySystemd reports readiness once the app has fully started and then
// services the watchdog for as long as the poll loop stays healthy. Outside
// systemd every call is a no-op.
func notifySystemd(ctx context.Context, ready <-chan struct{}, healthy func() bool) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			return
		case <-t.C:
			// Skipped keepalives let systemd's watchdog restart a process
			// whose loop died without the process noticing.
			if healthy() {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
