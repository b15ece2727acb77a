// Package serverstate tracks one entry per configured worker: its live
// connection (if any), outstanding control command, pending job/control
// counters, and the last ServerInfo snapshot (spec.md §4.C and §3's
// ServerState type). The field set mirrors original_source's
// Client::ServerState (Client.h); the table-level upsert/scan pattern is
// grounded on the teacher's InvokerRegistry (master/registry/registry.go).
package serverstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/wire"
)

// Info is the last MsgServerInfo snapshot received from a worker.
type Info struct {
	Timestamp            time.Time
	Mode                 uint8
	NumClients           uint16
	NumCPUTotal          uint16
	NumCPUIdle           uint16
	NumCPUBusy           uint16
	NumBlockingProcesses uint16
	CPUUsageFASTBuild    float32
	CPUUsageTotal        float32
	WorkerIdle           []bool
	WorkerBusy           []bool
	HostNames            []string
	JobStatus            []string
}

// Entry is one worker's ServerState (spec.md §3). Non-atomic fields are
// guarded by mu; callers use the Entry methods rather than touching
// fields directly.
type Entry struct {
	Name           string
	ControlEnabled bool

	buildJobsEnabled atomic.Bool
	connection       atomic.Pointer[connpool.Connection]

	mu                      sync.Mutex
	remoteName              string
	delayTimerStart         time.Time
	numJobsAdvertised       uint32
	inFlightJobs            map[uint64]buildjob.Job
	controlPendingSend      bool
	controlPendingResponse  bool
	controlSuccess          bool
	controlFailure          bool
	pendingMsg              wire.Message
	pendingPayload          []byte
	pendingExpectResponse   bool
	lastInfo                Info
	hasInfo                 bool

	table *Table // for global counter bookkeeping on flag transitions
}

func newEntry(table *Table, name string, buildEnabled, controlEnabled bool) *Entry {
	e := &Entry{
		Name:           name,
		ControlEnabled: controlEnabled,
		inFlightJobs:   make(map[uint64]buildjob.Job),
		table:          table,
	}
	e.buildJobsEnabled.Store(buildEnabled)
	return e
}

// BuildJobsEnabled reports whether this worker currently accepts build
// jobs. Cleared at runtime when a worker is blacklisted after repeated
// system errors (spec.md §4.E).
func (e *Entry) BuildJobsEnabled() bool {
	return e.buildJobsEnabled.Load()
}

// SetBuildJobsEnabled toggles build-job eligibility.
func (e *Entry) SetBuildJobsEnabled(enabled bool) {
	e.buildJobsEnabled.Store(enabled)
}

// Connection returns the live connection, or nil. Readable without the
// record mutex per spec.md §3 ("write-atomic, readable without the
// record mutex").
func (e *Entry) Connection() *connpool.Connection {
	return e.connection.Load()
}

// Connected reports whether this worker currently has a live connection.
func (e *Entry) Connected() bool {
	return e.connection.Load() != nil
}

// SetConnection attaches or clears the live connection. Clearing it
// returns the in-flight jobs so the caller can requeue them before the
// field transitions to null, per the invariant that all in-flight jobs
// are returned to the queue before connection is cleared.
func (e *Entry) SetConnection(conn *connpool.Connection, remoteName string) (requeued []buildjob.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conn == nil {
		requeued = e.drainInFlightLocked()
		e.numJobsAdvertised = 0
		e.delayTimerStart = time.Now()
		e.clearControlLocked()
	} else {
		e.remoteName = remoteName
	}
	e.connection.Store(conn)
	return requeued
}

func (e *Entry) drainInFlightLocked() []buildjob.Job {
	jobs := make([]buildjob.Job, 0, len(e.inFlightJobs))
	for _, job := range e.inFlightJobs {
		jobs = append(jobs, job)
	}
	e.inFlightJobs = make(map[uint64]buildjob.Job)
	return jobs
}

// RemoteName is the host name the worker announced in its handshake.
func (e *Entry) RemoteName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteName
}

// DelayElapsed reports how long it has been since the last failed
// connection attempt (zero value means "never attempted", i.e. the
// first attempt is immediate, per spec.md §3).
func (e *Entry) DelayElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.delayTimerStart.IsZero() {
		return time.Hour // sentinel: far beyond any configured reconnect delay
	}
	return time.Since(e.delayTimerStart)
}

// RecordConnectFailure resets the reconnect delay timer.
func (e *Entry) RecordConnectFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delayTimerStart = time.Now()
}

// NumJobsAdvertised is the job count this worker was last told we have.
func (e *Entry) NumJobsAdvertised() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numJobsAdvertised
}

func (e *Entry) SetNumJobsAdvertised(n uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.numJobsAdvertised = n
}

// TrackJob records job as in-flight on this worker.
func (e *Entry) TrackJob(job buildjob.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlightJobs[job.JobID()] = job
}

// UntrackJob clears jobID and returns the job plus whether it was tracked.
func (e *Entry) UntrackJob(jobID uint64) (buildjob.Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.inFlightJobs[jobID]
	delete(e.inFlightJobs, jobID)
	return job, ok
}

// InFlightJobs returns the jobs currently assigned to this worker.
func (e *Entry) InFlightJobs() []buildjob.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	jobs := make([]buildjob.Job, 0, len(e.inFlightJobs))
	for _, job := range e.inFlightJobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// BeginControlSend queues a control command to send on the next
// distribution-loop pass. Callers are expected to serialize control
// commands per worker via internal/control, keeping the spec.md §3
// invariant that pending_send and pending_response are never both true.
func (e *Entry) BeginControlSend(msg wire.Message, payload []byte, expectResponse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.controlPendingSend && e.table != nil {
		e.table.pendingSendTotal.Add(1)
	}
	e.controlPendingSend = true
	e.controlSuccess = false
	e.controlFailure = false
	e.pendingMsg = msg
	e.pendingPayload = payload
	e.pendingExpectResponse = expectResponse
}

// PendingCommand returns the command queued by BeginControlSend.
func (e *Entry) PendingCommand() (msg wire.Message, payload []byte, expectResponse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingMsg, e.pendingPayload, e.pendingExpectResponse
}

// CommandSent transitions pending_send -> pending_response, maintaining
// the invariant that the two flags are never both true.
func (e *Entry) CommandSent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controlPendingSend && e.table != nil {
		e.table.pendingSendTotal.Add(-1)
	}
	e.controlPendingSend = false
	if !e.controlPendingResponse && e.table != nil {
		e.table.pendingReceiveTotal.Add(1)
	}
	e.controlPendingResponse = true
}

// CommandFailed aborts a pending send without expecting a response.
func (e *Entry) CommandFailed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controlPendingSend && e.table != nil {
		e.table.pendingSendTotal.Add(-1)
	}
	e.controlPendingSend = false
	e.controlFailure = true
}

// CommandResolved records the outcome of a command awaiting response.
func (e *Entry) CommandResolved(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.controlPendingResponse && e.table != nil {
		e.table.pendingReceiveTotal.Add(-1)
	}
	e.controlPendingResponse = false
	e.controlSuccess = ok
	e.controlFailure = !ok
}

func (e *Entry) clearControlLocked() {
	if e.controlPendingSend && e.table != nil {
		e.table.pendingSendTotal.Add(-1)
	}
	if e.controlPendingResponse && e.table != nil {
		e.table.pendingReceiveTotal.Add(-1)
	}
	e.controlPendingSend = false
	e.controlPendingResponse = false
}

// ControlFlags reports the four command flags of spec.md §3 verbatim.
func (e *Entry) ControlFlags() (pendingSend, pendingResponse, success, failure bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlPendingSend, e.controlPendingResponse, e.controlSuccess, e.controlFailure
}

// SetInfo records a fresh ServerInfo snapshot.
func (e *Entry) SetInfo(info Info) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastInfo = info
	e.hasInfo = true
}

// Info returns the last known ServerInfo snapshot and whether one has
// ever been received.
func (e *Entry) Info() (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastInfo, e.hasInfo
}

// Table is the full set of configured workers, sized once at
// construction and iterated in configuration order — every build worker
// precedes every control-only worker (spec.md §4.C) — for round-robin
// scanning (spec.md §4.D "LookForWorkers").
type Table struct {
	entries []*Entry
	byName  map[string]*Entry

	pendingSendTotal    atomic.Int64
	pendingReceiveTotal atomic.Int64
}

// NewTable builds a table with one entry per name. Build-eligible names
// are placed before control-only names; a name present in both lists
// gets a single merged entry at its build-list position.
func NewTable(buildWorkers, controlWorkers []string) *Table {
	t := &Table{byName: make(map[string]*Entry)}
	for _, n := range buildWorkers {
		if _, ok := t.byName[n]; ok {
			continue
		}
		e := newEntry(t, n, true, false)
		t.byName[n] = e
		t.entries = append(t.entries, e)
	}
	for _, n := range controlWorkers {
		if existing, ok := t.byName[n]; ok {
			existing.ControlEnabled = true
			continue
		}
		e := newEntry(t, n, false, true)
		t.byName[n] = e
		t.entries = append(t.entries, e)
	}
	return t
}

// Entries returns the table in configuration order.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len is the number of configured workers.
func (t *Table) Len() int {
	return len(t.entries)
}

// At returns the entry at a circular index, for the round-robin scan
// that starts at a random offset (spec.md §4.D).
func (t *Table) At(i int) *Entry {
	n := len(t.entries)
	if n == 0 {
		return nil
	}
	return t.entries[((i%n)+n)%n]
}

// ByName looks up an entry for control-command targeting.
func (t *Table) ByName(name string) (*Entry, bool) {
	e, ok := t.byName[name]
	return e, ok
}

// EntryForConnection finds the entry currently attached to conn, if any.
func (t *Table) EntryForConnection(conn *connpool.Connection) *Entry {
	for _, e := range t.entries {
		if e.Connection() == conn {
			return e
		}
	}
	return nil
}

// PendingSendTotal is the global counter of spec.md §3's invariant:
// equals the population count of control_pending_send across entries.
func (t *Table) PendingSendTotal() int64 { return t.pendingSendTotal.Load() }

// PendingReceiveTotal is the global counter of spec.md §3's invariant:
// equals the population count of control_pending_response across entries.
func (t *Table) PendingReceiveTotal() int64 { return t.pendingReceiveTotal.Load() }
