// Command fbuild is the distribution-enabled build client (spec.md §2's
// "client process"): it wires internal/distclient's distribution loop,
// internal/dispatch's job handling, internal/control's worker control
// channel, and the wrapper/process-group machinery behind -wrapper, into
// one process. Grounded on the teacher's main.go + common/testing_system.go
// (InitTestingSystem/Run), generalized from one hardcoded TestingSystem
// struct to explicit component wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/InSimo/fastbuild/internal/adminapi"
	"github.com/InSimo/fastbuild/internal/buildjob/memqueue"
	"github.com/InSimo/fastbuild/internal/config"
	"github.com/InSimo/fastbuild/internal/control"
	"github.com/InSimo/fastbuild/internal/control/render"
	"github.com/InSimo/fastbuild/internal/dispatch"
	"github.com/InSimo/fastbuild/internal/dispatch/cacheadapter"
	"github.com/InSimo/fastbuild/internal/distclient"
	"github.com/InSimo/fastbuild/internal/ledger"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/metrics"
	"github.com/InSimo/fastbuild/internal/procgroup"
	"github.com/InSimo/fastbuild/internal/serverstate"
)

func main() {
	flags, err := ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(procgroup.ExitBadArgs)
	}

	if flags.WrapperFinal {
		os.Exit(int(runWrapperFinal(flags)))
		return
	}
	if flags.WrapperIntermediate {
		os.Exit(int(runWrapperIntermediate(flags)))
		return
	}
	if flags.Wrapper {
		os.Exit(int(runWrapperMain(flags)))
		return
	}

	os.Exit(int(run(flags)))
}

// run is the non-wrapper entry point: a single in-process build/client run.
func run(flags *Flags) int32 {
	cfg := loadConfig(flags)
	logger.Init(cfg.Logger)

	if flags.Wait {
		names := procgroup.DeriveNames(os.TempDir(), mustCanonicalize("."))
		if err := procgroup.NewCoordinator(names).WaitForMainLock(context.Background()); err != nil {
			logger.Error("fbuild: -wait: %v", err)
			return procgroup.ExitAlreadyRunning
		}
	}

	group := procgroup.New(context.Background())

	table := buildServerStateTable(cfg.Client, flags)
	registry := prometheus.NewRegistry()
	mc := metrics.NewCollector(registry)

	if !cfg.DB.InMemory && cfg.DB.Dsn == "" {
		cfg.DB.InMemory = true
	}
	led, err := ledger.Open(cfg.DB)
	if err != nil {
		logger.Error("fbuild: ledger unavailable, continuing without history: %v", err)
		led = nil
	}

	manifests := manifest.NewRegistry()
	jobs := memqueue.New()

	var cache dispatch.CompileCache
	if cfg.Client.CacheRead || cfg.Client.CacheWrite {
		cache = cacheadapter.New(1 << 30)
	}
	dispatchHandler := dispatch.New(dispatch.Config{
		MonitorEnabled:    flags.DistVerbose,
		CacheWriteEnabled: cfg.Client.CacheWrite,
	}, jobs, manifests, cache)
	dispatchHandler.SetResultRecorder(&resultRecorder{group: group, ledger: led, metrics: mc})

	controller := control.New(table)

	if flags.Dist {
		manager := distclient.New(distclient.Config{
			WorkerConnectionLimit:   uint32(cfg.Client.WorkerConnectionLimit),
			ConnectTimeout:          cfg.Client.ConnectTimeout,
			ReconnectDelay:          cfg.Client.ReconnectDelay,
			StatusAdvertiseInterval: cfg.Client.StatusAdvertiseInterval,
		}, table, jobs, manifests, dispatchHandler, controller)
		group.Go(func() { manager.Run(group.Context()) })
	}

	if cfg.AdminAPI != nil {
		server := adminapi.New(*cfg.AdminAPI, table, registry)
		group.Go(func() { server.Run(group) })
	}

	if flags.WorkerCmd != nil {
		runWorkerCmd(group.Context(), controller, flags, mc)
	}

	group.Stop()
	group.Wait()
	return procgroup.ExitOK
}

func loadConfig(flags *Flags) *config.Config {
	cfg := config.ReadFile(flags.ConfigPath)
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	cfg.Client.Workers = append(cfg.Client.Workers, flagWorkers(flags.Workers)...)
	if flags.ForceRemote {
		cfg.Client.ForceRemote = true
	}
	if flags.DistVerbose {
		cfg.Client.DetailedLogging = true
	}
	applyCacheModeEnv(cfg.Client)
	config.FillIn(cfg)
	return cfg
}

func flagWorkers(names []string) []config.WorkerRef {
	refs := make([]config.WorkerRef, 0, len(names))
	for _, n := range names {
		refs = append(refs, config.WorkerRef{Host: n, BuildEnabled: true, ControlEnabled: true})
	}
	return refs
}

// applyCacheModeEnv reads FASTBUILD_CACHE_MODE (spec.md §6) only when
// neither cache flag was already set from the config file.
func applyCacheModeEnv(c *config.ClientConfig) {
	if c.CacheRead || c.CacheWrite {
		return
	}
	switch os.Getenv("FASTBUILD_CACHE_MODE") {
	case "r":
		c.CacheRead = true
	case "w":
		c.CacheWrite = true
	case "rw":
		c.CacheRead, c.CacheWrite = true, true
	}
}

func buildServerStateTable(cc *config.ClientConfig, flags *Flags) *serverstate.Table {
	var build, ctrl []string
	for _, w := range cc.Workers {
		addr := w.Host + ":" + strconv.Itoa(w.Port)
		if w.BuildEnabled {
			build = append(build, addr)
		}
		if w.ControlEnabled {
			ctrl = append(ctrl, addr)
		}
	}
	if flags.WorkerCmd != nil && flags.WorkerCmd.Worker != "*" {
		ctrl = appendIfMissing(ctrl, flags.WorkerCmd.Worker)
	}
	return serverstate.NewTable(build, ctrl)
}

func appendIfMissing(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append(list, item)
}

// runWorkerCmd executes one -workercmd/-myworkercmd/-allworkerscmd
// invocation against the already-built table (spec.md §6).
func runWorkerCmd(ctx context.Context, controller *control.Controller, flags *Flags, mc *metrics.Collector) {
	cmd := flags.WorkerCmd
	timeout := 30 * time.Second
	if flags.WorkerCmdFlags.WaitSeconds > 0 {
		timeout = time.Duration(flags.WorkerCmdFlags.WaitSeconds) * time.Second
	}
	grace := time.Duration(flags.WorkerCmdFlags.GracePeriodSeconds) * time.Second

	mc.RecordControlCommand(cmd.Cmd)

	var ok bool
	switch cmd.Cmd {
	case "setmode":
		mode, err := control.ParseMode(cmd.Value)
		if err != nil {
			logger.Error("fbuild: -workercmd setmode: %v", err)
			return
		}
		ok = controller.SetMode(ctx, cmd.Worker, mode, grace, timeout)
	case "addblocking":
		pid := parsePID(cmd.Value)
		ok = controller.AddBlockingProcess(ctx, cmd.Worker, pid, grace, timeout)
	case "removeblocking":
		pid := parsePID(cmd.Value)
		ok = controller.RemoveBlockingProcess(ctx, cmd.Worker, pid, timeout)
	case "info", "json":
		level, _ := strconv.Atoi(cmd.Value)
		if cmd.Cmd == "json" {
			level = -level
		}
		ok, _ = controller.RequestServerInfo(ctx, cmd.Worker, level, timeout)
		printServerInfo(controller, cmd.Worker, level)
	default:
		logger.Error("fbuild: unrecognized -workercmd command %q", cmd.Cmd)
		return
	}

	if !ok && !flags.WorkerCmdFlags.NoFailure {
		logger.Error("fbuild: -workercmd %s against %s did not complete within %s", cmd.Cmd, cmd.Worker, timeout)
	}
}

// printServerInfo renders a RequestServerInfo round-trip's results to
// stdout (spec.md §4.F display_info): a bordered ASCII table for a
// positive level, a JSON array for a negative one, with per-CPU detail
// in either form when |level| >= 2.
func printServerInfo(controller *control.Controller, worker string, level int) {
	rows := render.Collect(controller.Targets(worker))
	abs := level
	if abs < 0 {
		abs = -abs
	}
	detailed := abs >= 2
	if level < 0 {
		data, err := render.JSON(rows, detailed)
		if err != nil {
			logger.Error("fbuild: rendering server info as JSON: %v", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Print(render.Table(rows, detailed))
}

// resultRecorder fans a dispatch.Handler's terminal job outcomes out to
// the metrics collector (always) and the job-outcome ledger (when one
// opened successfully), implementing dispatch.ResultRecorder.
type resultRecorder struct {
	group   *procgroup.Group
	ledger  *ledger.Ledger
	metrics *metrics.Collector
}

func (r *resultRecorder) RecordJobResult(nodeName string, success bool, buildTimeMS uint64) {
	outcome := metrics.OutcomeFailure
	if success {
		outcome = metrics.OutcomeSuccess
	}
	r.metrics.RecordJobResult(outcome, buildTimeMS)

	if r.ledger == nil {
		return
	}
	ledger.RecordAsync(r.group, r.ledger, ledger.JobRecord{
		NodeName:    nodeName,
		Success:     success,
		Remote:      true,
		BuildTimeMS: buildTimeMS,
	})
}

// parsePID resolves a non-positive PID to this process (0) or its n-th
// ancestor (-n), per spec.md §6; an unparsable value resolves to this
// process and positive PIDs are passed through unchanged. If an ancestor
// can not be looked up, the last PID reached is returned.
func parsePID(s string) uint32 {
	n, err := strconv.Atoi(s)
	if err == nil && n > 0 {
		return uint32(n)
	}
	pid := int32(os.Getpid())
	for ; err == nil && n < 0; n++ {
		proc, perr := process.NewProcess(pid)
		if perr != nil {
			break
		}
		ppid, perr := proc.Ppid()
		if perr != nil {
			break
		}
		pid = ppid
	}
	return uint32(pid)
}

func mustCanonicalize(dir string) string {
	abs, err := procgroup.Canonicalize(dir)
	if err != nil {
		logger.Panic("fbuild: can not canonicalize working directory: %v", err)
	}
	return abs
}
