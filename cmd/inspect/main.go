// Command inspect scans for one beacon and prints how each of its
// manufacturer payloads decodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/besir660/ruuvi-particle/internal/ble"
	"github.com/besir660/ruuvi-particle/internal/config"
	"github.com/besir660/ruuvi-particle/internal/logging"
	"github.com/besir660/ruuvi-particle/internal/utils"
)

var version = "dev"
var appName = "ruuvi-inspect"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.InspectMAC == "" {
		fmt.Fprintln(os.Stderr, "config error: INSPECT_MAC is required")
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg, version, appName))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := ble.NewListener(ble.Options{Adapter: cfg.BLEAdapter})
	advs, err := listener.Discover(ctx, cfg.ScanDuration)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scan failed", "error", err)
		os.Exit(1)
	}

	target := utils.NormalizeMAC(cfg.InspectMAC)
	found := false
	for _, adv := range advs {
		if utils.NormalizeMAC(adv.Address) != target {
			continue
		}
		found = true
		report(os.Stdout, adv)
	}

	if !found {
		fmt.Printf("%s not seen in %s\n", cfg.InspectMAC, cfg.ScanDuration)
		os.Exit(2)
	}
}
