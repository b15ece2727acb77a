// Package distclient implements the client-side distribution loop
// (spec.md §4.D): a single goroutine executing, in strict order,
// discovery of new worker connections, advertisement of local job
// availability, and pumping of pending control commands, then sleeping
// briefly before repeating. Grounded on original_source's
// Client::ThreadFunc (LookForWorkers/CommunicateJobAvailability/
// CommunicateCommands) and on the teacher's goroutine-group shape in
// common/testing_system.go (Go/runProcess).
package distclient

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/serverstate"
	"github.com/InSimo/fastbuild/internal/wire"
)

// connectionReattemptDelay mirrors original_source's
// CONNECTION_REATTEMPT_DELAY_TIME (Client.cpp: 10.0f seconds).
const connectionReattemptDelay = 10 * time.Second

// Config tunes the distribution loop's rates and limits (spec.md §4.D).
type Config struct {
	WorkerConnectionLimit   uint32
	ConnectTimeout          time.Duration
	ReconnectDelay          time.Duration
	StatusAdvertiseInterval time.Duration
}

func (c *Config) fillIn() {
	if c.WorkerConnectionLimit == 0 {
		c.WorkerConnectionLimit = 15
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 2 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = connectionReattemptDelay
	}
	if c.StatusAdvertiseInterval == 0 {
		c.StatusAdvertiseInterval = 100 * time.Millisecond
	}
}

// JobHandler answers the worker-originated, job-related message types
// (spec.md §4.E); Manager routes received frames into it.
type JobHandler interface {
	HandleRequestJob(entry *serverstate.Entry)
	HandleJobResult(entry *serverstate.Entry, payload []byte)
	HandleRequestManifest(entry *serverstate.Entry, toolID uint64)
	HandleRequestFile(entry *serverstate.Entry, toolID uint64, fileID uint32)
}

// ControlHandler answers worker-originated control responses (spec.md §4.F).
type ControlHandler interface {
	HandleServerInfo(entry *serverstate.Entry, msg wire.MsgServerInfo, payload []byte)
}

// Manager owns the ServerState table, the connection pool, and the
// single background loop driving both.
type Manager struct {
	cfg       Config
	table     *serverstate.Table
	pool      *connpool.Pool
	jobs      buildjob.JobSource
	manifests manifest.Provider
	jobH      JobHandler
	ctrlH     ControlHandler

	lastStatusUpdate time.Time
}

// New builds a Manager over table, dialing out via a freshly created
// connpool.Pool whose callbacks route into jobHandler/controlHandler.
func New(cfg Config, table *serverstate.Table, jobs buildjob.JobSource, manifests manifest.Provider, jobHandler JobHandler, controlHandler ControlHandler) *Manager {
	cfg.fillIn()
	m := &Manager{
		cfg:       cfg,
		table:     table,
		jobs:      jobs,
		manifests: manifests,
		jobH:      jobHandler,
		ctrlH:     controlHandler,
	}
	m.pool = connpool.New(connpool.Callbacks{
		OnReceive:    m.onReceive,
		OnDisconnect: m.onDisconnect,
	})
	return m
}

// Run executes the three-step loop until ctx is cancelled (spec.md
// §4.D). It never returns an error; failures are logged and retried.
func (m *Manager) Run(ctx context.Context) {
	m.lastStatusUpdate = time.Now().Add(-m.cfg.StatusAdvertiseInterval) // first update fires immediately
	for {
		m.lookForWorkers(ctx)
		if ctx.Err() != nil {
			return
		}
		m.communicateJobAvailability()
		if ctx.Err() != nil {
			return
		}
		m.communicateCommands()
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// lookForWorkers scans the table starting from a random index and
// attempts at most one new connection per call (spec.md §4.D Step 1).
func (m *Manager) lookForWorkers(ctx context.Context) {
	entries := m.table.Entries()
	n := len(entries)
	if n == 0 {
		return
	}

	numConnections := 0
	for _, e := range entries {
		if e.Connected() {
			numConnections++
		}
	}
	if uint32(numConnections) >= m.cfg.WorkerConnectionLimit {
		return
	}
	if numConnections == n {
		return
	}

	start := rand.IntN(n)
	for j := 0; j < n; j++ {
		e := m.table.At(start + j)
		if e.Connected() {
			continue
		}
		if !e.BuildJobsEnabled() && !e.ControlEnabled {
			continue
		}
		if e.DelayElapsed() < m.cfg.ReconnectDelay {
			continue
		}

		conn, err := m.pool.Dial(ctx, e.Name, m.cfg.ConnectTimeout)
		if err != nil {
			logger.Debug("distclient: connect to %s failed: %v", e.Name, err)
			e.RecordConnectFailure()
			return
		}

		numJobsAvailable := uint32(0)
		if e.BuildJobsEnabled() {
			numJobsAvailable = m.jobs.NumDistributableJobsAvailable()
		}
		e.SetConnection(conn, e.Name)
		e.SetNumJobsAdvertised(numJobsAvailable)
		if err := conn.Send(wire.MsgConnection{
			ProtocolVersion:  ProtocolVersion,
			NumJobsAvailable: numJobsAvailable,
			Platform:         wire.CurrentPlatform(),
			HostName:         localHostName(),
		}, nil); err != nil {
			logger.Debug("distclient: handshake send to %s failed: %v", e.Name, err)
		}
		return // one connection attempt per iteration
	}
}

// communicateJobAvailability sends MsgStatus to every connected
// build-eligible worker whose advertised count is stale, rate-limited
// to once per StatusAdvertiseInterval (spec.md §4.D Step 2).
func (m *Manager) communicateJobAvailability() {
	if time.Since(m.lastStatusUpdate) < m.cfg.StatusAdvertiseInterval {
		return
	}
	m.lastStatusUpdate = time.Now()

	numJobsAvailable := m.jobs.NumDistributableJobsAvailable()
	for _, e := range m.table.Entries() {
		if !e.BuildJobsEnabled() {
			continue
		}
		conn := e.Connection()
		if conn == nil {
			continue
		}
		if e.NumJobsAdvertised() == numJobsAvailable {
			continue
		}
		if err := conn.Send(wire.MsgStatus{NumJobsAvailable: numJobsAvailable}, nil); err != nil {
			logger.Debug("distclient: status update to %s failed: %v", e.RemoteName(), err)
			continue
		}
		e.SetNumJobsAdvertised(numJobsAvailable)
	}
}

// communicateCommands sends any pending control command to every
// control-eligible worker with controlPendingSend set (spec.md §4.D
// Step 3 / §4.F). Skipped entirely when pending_send_total is zero.
func (m *Manager) communicateCommands() {
	if m.table.PendingSendTotal() == 0 {
		return
	}
	for _, e := range m.table.Entries() {
		if !e.ControlEnabled {
			continue
		}
		pendingSend, _, _, _ := e.ControlFlags()
		if !pendingSend {
			continue
		}
		conn := e.Connection()
		if conn == nil {
			e.CommandFailed()
			continue
		}
		msg, payload, expectResponse := e.PendingCommand()
		if err := conn.Send(msg, payload); err != nil {
			logger.Debug("distclient: control send to %s failed: %v", e.RemoteName(), err)
			e.CommandFailed()
			continue
		}
		if expectResponse {
			e.CommandSent()
		} else {
			e.CommandSent()
			e.CommandResolved(true)
		}
	}
}

func (m *Manager) onReceive(conn *connpool.Connection, frame wire.Frame) {
	entry := m.table.EntryForConnection(conn)
	if entry == nil {
		return
	}
	switch msg := frame.Message.(type) {
	case wire.MsgRequestJob:
		if m.jobH != nil {
			m.jobH.HandleRequestJob(entry)
		}
	case wire.MsgJobResult:
		if m.jobH != nil {
			m.jobH.HandleJobResult(entry, frame.Payload)
		}
	case wire.MsgRequestManifest:
		if m.jobH != nil {
			m.jobH.HandleRequestManifest(entry, msg.ToolID)
		}
	case wire.MsgRequestFile:
		if m.jobH != nil {
			m.jobH.HandleRequestFile(entry, msg.ToolID, msg.FileID)
		}
	case wire.MsgServerInfo:
		if m.ctrlH != nil {
			m.ctrlH.HandleServerInfo(entry, msg, frame.Payload)
		}
	default:
		logger.Warn("distclient: unexpected message %s from %s", msg.Tag(), entry.RemoteName())
	}
}

func (m *Manager) onDisconnect(conn *connpool.Connection, err error) {
	entry := m.table.EntryForConnection(conn)
	if entry == nil {
		return
	}
	requeued := entry.SetConnection(nil, "")
	for _, job := range requeued {
		m.jobs.Requeue(job)
	}
	logger.Info("distclient: %s disconnected: %v", entry.Name, err)
}

// Table exposes the underlying ServerState table, e.g. for
// internal/control command issuance and internal/adminapi reporting.
func (m *Manager) Table() *serverstate.Table { return m.table }

// Pool exposes the underlying connection pool for listening on the
// worker-side port when this process also accepts inbound control
// connections.
func (m *Manager) Pool() *connpool.Pool { return m.pool }
