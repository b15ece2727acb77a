// Command fworker is the worker daemon referenced by SPEC_FULL.md §2 and
// §4.H: it listens for client connections, reports CPU availability and
// mode through internal/resource and internal/workersettings, and answers
// job/manifest/file/control traffic via internal/workerd. Grounded on
// cmd/fbuild/main.go's run() wiring (config load, logger init,
// procgroup.Group lifecycle, optional admin API), generalized from the
// client's distribution loop to the worker's accept loop.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/InSimo/fastbuild/internal/adminapi"
	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/metrics"
	"github.com/InSimo/fastbuild/internal/procgroup"
	"github.com/InSimo/fastbuild/internal/resource"
	"github.com/InSimo/fastbuild/internal/workerd"
	"github.com/InSimo/fastbuild/internal/workersettings"
)

func main() {
	flags, err := ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(procgroup.ExitBadArgs)
	}
	os.Exit(int(run(flags)))
}

func run(flags *Flags) int32 {
	cfg := loadConfig(flags)
	logger.Init(cfg.Logger)

	group := procgroup.New(context.Background())

	settings, err := workersettings.Load(cfg.Worker.SettingsPath)
	if err != nil {
		settings = workersettings.Defaults(cfg.Worker.NumCPUsToUse)
		if err := workersettings.Save(cfg.Worker.SettingsPath, settings); err != nil {
			logger.Warn("fworker: can not persist default settings: %v", err)
		}
	}
	if flags.Mode != "" {
		mode, err := parseSettingsMode(flags.Mode)
		if err != nil {
			logger.Error("fworker: -mode: %v", err)
			return procgroup.ExitBadArgs
		}
		settings.Mode = mode
	}

	registry := prometheus.NewRegistry()
	mc := metrics.NewCollector(registry)

	detector := newDetector()
	daemon := workerd.New(workerd.Config{HostName: localHostName()}, detector, settings, mc)

	addr := ":" + strconv.Itoa(cfg.Worker.Port)
	group.Go(func() {
		if err := daemon.Run(group.Context(), addr); err != nil {
			logger.Error("fworker: listener on %s failed: %v", addr, err)
		}
	})
	logger.Info("fworker: listening on %s, mode=%d", addr, settings.Mode)

	if cfg.AdminAPI != nil {
		// A worker has no ServerState table of its own (that's the
		// client's view of its workers); /status answers 404.
		server := adminapi.New(*cfg.AdminAPI, nil, registry)
		group.Go(func() { server.Run(group) })
	}

	// Unlike cmd/fbuild's one-shot invocation, fworker is a long-running
	// daemon: it blocks here until SIGINT/SIGTERM cancels the group's
	// context rather than stopping itself immediately.
	group.Wait()
	return procgroup.ExitOK
}

func loadConfig(flags *Flags) *config.Config {
	cfg := config.ReadFile(flags.ConfigPath)
	if cfg.Worker == nil {
		cfg.Worker = &config.WorkerConfig{}
	}
	if flags.Port != 0 {
		cfg.Worker.Port = flags.Port
	}
	config.FillIn(cfg)
	return cfg
}

func newDetector() resource.Detector {
	if runtime.GOOS == "windows" || runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		return resource.NewGopsutilDetector()
	}
	return resource.NewStaticDetector()
}

func parseSettingsMode(s string) (workersettings.Mode, error) {
	switch s {
	case "disabled":
		return workersettings.ModeDisabled, nil
	case "whenidle":
		return workersettings.ModeWhenIdle, nil
	case "dedicated":
		return workersettings.ModeDedicated, nil
	case "proportional":
		return workersettings.ModeProportional, nil
	default:
		return 0, fmt.Errorf("unrecognized mode %q", s)
	}
}

func localHostName() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
