// Package control implements the worker control channel (spec.md §4.F):
// issuing SetMode/AddBlockingProcess/RemoveBlockingProcess/RequestServerInfo
// commands against a chosen subset of the ServerState table, and waiting
// for the distribution loop (internal/distclient Step 3) to drain them.
// wait_last_command_result's exponential back-off spin-wait is grounded on
// the teacher's only use of github.com/cenkalti/backoff/v5,
// master/actions.go's retryUntilOK.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/InSimo/fastbuild/internal/distclient"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/serverstate"
	"github.com/InSimo/fastbuild/internal/wire"
)

var _ distclient.ControlHandler = (*Controller)(nil)

// Mode mirrors original_source's WorkerSettings::Mode.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeWhenIdle
	ModeDedicated
	ModeProportional
)

// ParseMode accepts the -workercmd setmode argument spelling.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "disabled":
		return ModeDisabled, nil
	case "idle":
		return ModeWhenIdle, nil
	case "dedicated":
		return ModeDedicated, nil
	case "proportional":
		return ModeProportional, nil
	default:
		return 0, fmt.Errorf("control: unknown mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeWhenIdle:
		return "idle"
	case ModeDedicated:
		return "dedicated"
	case ModeProportional:
		return "proportional"
	default:
		return "unknown"
	}
}

// allWorkersTarget is the -allworkerscmd wildcard, matched against no
// configured worker name.
const allWorkersTarget = "*"

// Controller issues control commands against a ServerState table and
// records ServerInfo responses into it (spec.md §4.F).
type Controller struct {
	table *serverstate.Table
}

// New builds a Controller over table.
func New(table *serverstate.Table) *Controller {
	return &Controller{table: table}
}

// HandleServerInfo implements distclient.ControlHandler: records the
// reply's scalars and, when present, its per-CPU detail payload into the
// entry's last-known Info, then resolves the pending command.
func (c *Controller) HandleServerInfo(entry *serverstate.Entry, msg wire.MsgServerInfo, payload []byte) {
	info := serverstate.Info{
		Timestamp:            time.Now(),
		Mode:                 msg.Mode,
		NumClients:           msg.NumClients,
		NumCPUTotal:          msg.NumCPUTotal,
		NumCPUIdle:           msg.NumCPUAvailable,
		NumCPUBusy:           msg.NumCPUBusy,
		NumBlockingProcesses: msg.NumBlockingProcesses,
		CPUUsageFASTBuild:    msg.CPUUsageFASTBuild,
		CPUUsageTotal:        msg.CPUUsageTotal,
	}
	if msg.WithDetails {
		details, err := wire.UnmarshalServerInfoDetails(payload)
		if err != nil {
			logger.Warn("control: malformed server info details from %s: %v", entry.RemoteName(), err)
		} else {
			info.WorkerIdle = make([]bool, len(details))
			info.WorkerBusy = make([]bool, len(details))
			info.HostNames = make([]string, len(details))
			info.JobStatus = make([]string, len(details))
			for i, d := range details {
				info.WorkerIdle[i] = d.Idle
				info.WorkerBusy[i] = d.Busy
				info.HostNames[i] = d.HostName
				info.JobStatus[i] = d.JobStatus
			}
		}
	}
	entry.SetInfo(info)
	entry.CommandResolved(true)
}

// Targets resolves a -workercmd worker argument to the entries it names,
// for callers (e.g. the CLI's display_info path) that need the same
// target set issue used to render a RequestServerInfo round-trip's
// results.
func (c *Controller) Targets(worker string) []*serverstate.Entry {
	return c.targets(worker)
}

// targets resolves a -workercmd worker argument to the entries it names:
// "*" (the -allworkerscmd alias) selects every control-enabled entry,
// anything else is a single worker name.
func (c *Controller) targets(worker string) []*serverstate.Entry {
	if worker == allWorkersTarget {
		var out []*serverstate.Entry
		for _, e := range c.table.Entries() {
			if e.ControlEnabled {
				out = append(out, e)
			}
		}
		return out
	}
	if e, ok := c.table.ByName(worker); ok && e.ControlEnabled {
		return []*serverstate.Entry{e}
	}
	return nil
}

// issue queues msg against every entry matching worker and waits for the
// distribution loop to drain it, per spec.md §4.F steps 2-3 plus
// wait_last_command_result.
func (c *Controller) issue(ctx context.Context, worker string, msg wire.Message, payload []byte, expectResponse bool, timeout time.Duration) (ok bool, affected int) {
	entries := c.targets(worker)
	for _, e := range entries {
		e.BeginControlSend(msg, payload, expectResponse)
	}
	return c.WaitLastCommandResult(ctx, timeout), len(entries)
}

// SetMode issues SetMode with gracePeriod (spec.md §4.F, §6 -workercmdflag grace).
func (c *Controller) SetMode(ctx context.Context, worker string, mode Mode, gracePeriod time.Duration, timeout time.Duration) bool {
	ok, _ := c.issue(ctx, worker, wire.MsgSetMode{Mode: uint8(mode), GracePeriod: gracePeriodSeconds(gracePeriod)}, nil, false, timeout)
	return ok
}

// AddBlockingProcess issues AddBlockingProcess for pid (spec.md §6 addblocking).
func (c *Controller) AddBlockingProcess(ctx context.Context, worker string, pid uint32, gracePeriod time.Duration, timeout time.Duration) bool {
	ok, _ := c.issue(ctx, worker, wire.MsgAddBlockingProcess{PID: pid, GracePeriod: gracePeriodSeconds(gracePeriod)}, nil, false, timeout)
	return ok
}

// RemoveBlockingProcess issues RemoveBlockingProcess for pid (spec.md §6 removeblocking).
func (c *Controller) RemoveBlockingProcess(ctx context.Context, worker string, pid uint32, timeout time.Duration) bool {
	ok, _ := c.issue(ctx, worker, wire.MsgRemoveBlockingProcess{PID: pid}, nil, false, timeout)
	return ok
}

// RequestServerInfo issues RequestServerInfo and waits for every targeted
// entry's response (spec.md §4.F "display_info"). detailsLevel selects
// per-CPU detail when |level| >= 2.
func (c *Controller) RequestServerInfo(ctx context.Context, worker string, detailsLevel int, timeout time.Duration) (ok bool, affected int) {
	abs := detailsLevel
	if abs < 0 {
		abs = -abs
	}
	msg := wire.MsgRequestServerInfo{DetailsLevel: uint8(abs)}
	return c.issue(ctx, worker, msg, nil, true, timeout)
}

func gracePeriodSeconds(d time.Duration) uint16 {
	secs := d / time.Second
	if secs < 0 {
		return 0
	}
	if secs > 0xFFFF {
		return 0xFFFF
	}
	return uint16(secs)
}

// WaitLastCommandResult spin-waits (exponential back-off 1ms -> 100ms in
// ~20% increments) until both of the table's pending counters reach zero,
// or timeout elapses; on timeout it force-clears every entry's pending
// flags and reports failure (spec.md §4.F step 1). A non-positive timeout
// uses the spec's 30s default.
func (c *Controller) WaitLastCommandResult(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.Multiplier = 1.2
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0 // deadline below owns when to stop, not the back-off policy

	for {
		if c.table.PendingSendTotal() == 0 && c.table.PendingReceiveTotal() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			c.forceClearPending()
			return false
		}
		select {
		case <-ctx.Done():
			c.forceClearPending()
			return false
		case <-time.After(b.NextBackOff()):
		}
	}
}

// forceClearPending implements the timeout branch of wait_last_command_result:
// clear every entry's pending flags and mark them control_failure.
func (c *Controller) forceClearPending() {
	for _, e := range c.table.Entries() {
		pendingSend, pendingResponse, _, _ := e.ControlFlags()
		if pendingSend {
			e.CommandFailed()
		}
		if pendingResponse {
			e.CommandResolved(false)
		}
	}
}

// WaitIdle repeats RequestServerInfo at up to 30s per round until the
// aggregated busy-CPU count across the entries worker selects (those
// with a ServerInfo snapshot) reaches zero or deadline passes (spec.md §4.F "Wait-idle").
func (c *Controller) WaitIdle(ctx context.Context, worker string, deadline time.Time) bool {
	for {
		roundTimeout := time.Until(deadline)
		if roundTimeout <= 0 {
			return false
		}
		if roundTimeout > 30*time.Second {
			roundTimeout = 30 * time.Second
		}
		c.RequestServerInfo(ctx, worker, 1, roundTimeout)

		busy := uint16(0)
		for _, e := range c.targets(worker) {
			info, ok := e.Info()
			if !ok {
				continue
			}
			busy += info.NumCPUBusy
		}
		if busy == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
}
