// Package workerd is the worker-side session logic cmd/fworker wires
// into a connpool.Pool listener: the accept/handshake/job-request loop
// and the control-command replies spec.md §4.H describes as "collaborator
// interfaces only." original_source runs this logic inside the same
// binary and Job class as the client; here it is the one place besides
// internal/buildjob/demojob that needs to agree with the client on the
// Job payload's shape, since the dependency graph and real compiler
// invocation stay external per spec.md §1 Non-goals. Grounded on
// original_source's Worker/Client.cpp state machine and, for the ambient
// shape of a callback-driven daemon over internal/connpool, on
// internal/dispatch.Handler (the client-side mirror of this same
// protocol).
package workerd

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/InSimo/fastbuild/internal/buildjob/demojob"
	"github.com/InSimo/fastbuild/internal/connpool"
	"github.com/InSimo/fastbuild/internal/distclient"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/metrics"
	"github.com/InSimo/fastbuild/internal/resource"
	"github.com/InSimo/fastbuild/internal/wire"
	"github.com/InSimo/fastbuild/internal/workersettings"
)

// Config tunes the daemon's request-retry pacing and blocking-by-name scan.
type Config struct {
	// RequestRetryInterval is how long the daemon waits after a
	// NoJobAvailable reply before asking the same client again.
	RequestRetryInterval time.Duration

	// BlockingNameScanInterval is how often running processes are
	// scanned against Settings.BlockingProcessNames.
	BlockingNameScanInterval time.Duration

	HostName string
}

func (c *Config) fillIn() {
	if c.RequestRetryInterval == 0 {
		c.RequestRetryInterval = time.Second
	}
	if c.BlockingNameScanInterval == 0 {
		c.BlockingNameScanInterval = 2 * time.Second
	}
}

// Daemon holds the worker's mode, blocking-process set, and one session
// per connected client (spec.md §4.H: "reports worker capacity and mode
// to the client").
type Daemon struct {
	cfg      Config
	epoch    uuid.UUID
	detector resource.Detector
	metrics  *metrics.Collector
	pool     *connpool.Pool

	mu            sync.Mutex
	mode          workersettings.Mode
	blockingByPID map[uint32]chan struct{} // value closed to cancel the liveness poller
	blockingNames []string
	blockedByName bool
	sessions      map[*connpool.Connection]*session
}

// session is the per-connection state for one connected client.
type session struct {
	mu           sync.Mutex
	clientHost   string
	advertised   uint32
	jobRequested bool
	jobInFlight  bool
	job          demojob.Payload
	jobStarted   time.Time
	manifests    map[uint64]manifest.Manifest
}

// New builds a Daemon reporting through detector, seeded with settings
// loaded from disk (spec.md §6). Each Daemon is stamped with a v6 UUID
// epoch identifying this process run, so a reconnecting client (or this
// process's own logs) can tell a restarted daemon apart from one that
// has simply dropped and reconnected — the same role original_source's
// invoker epoch ID plays across master restarts.
func New(cfg Config, detector resource.Detector, settings workersettings.Settings, mc *metrics.Collector) *Daemon {
	cfg.fillIn()
	epoch, err := uuid.NewV6()
	if err != nil {
		epoch = uuid.New()
	}
	return &Daemon{
		cfg:           cfg,
		epoch:         epoch,
		detector:      detector,
		metrics:       mc,
		mode:          settings.Mode,
		blockingByPID: make(map[uint32]chan struct{}),
		blockingNames: settings.BlockingProcessNames,
		sessions:      make(map[*connpool.Connection]*session),
	}
}

// Epoch returns this daemon instance's process-run identifier.
func (d *Daemon) Epoch() uuid.UUID { return d.epoch }

// Run listens on addr until ctx is cancelled, and concurrently scans for
// blocking-process names (spec.md §6 WorkerSettings.BlockingProcessNames).
func (d *Daemon) Run(ctx context.Context, addr string) error {
	d.pool = connpool.New(connpool.Callbacks{
		OnReceive:    d.onReceive,
		OnDisconnect: d.onDisconnect,
	})
	logger.Info("workerd: listening on %s, epoch=%s", addr, d.epoch)
	go d.scanBlockingNames(ctx)
	return d.pool.Listen(ctx, addr)
}

// Mode reports the worker's current acceptance policy.
func (d *Daemon) Mode() workersettings.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Daemon) scanBlockingNames(ctx context.Context) {
	d.mu.Lock()
	names := d.blockingNames
	d.mu.Unlock()
	if len(names) == 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.BlockingNameScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			blocked := d.anyBlockingNameRunning(names)
			d.mu.Lock()
			changed := d.blockedByName != blocked
			d.blockedByName = blocked
			d.mu.Unlock()
			if changed && blocked {
				logger.Info("workerd: job acceptance paused, a blocking process is running")
			}
		}
	}
}

func (d *Daemon) anyBlockingNameRunning(names []string) bool {
	procs, err := process.Processes()
	if err != nil {
		logger.Debug("workerd: process scan failed: %v", err)
		return false
	}
	for _, p := range procs {
		n, err := p.Name()
		if err != nil {
			continue
		}
		for _, pattern := range names {
			if n == pattern {
				return true
			}
		}
	}
	return false
}

func (d *Daemon) isBlocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.blockingByPID) > 0 || d.blockedByName
}

func (d *Daemon) onReceive(conn *connpool.Connection, frame wire.Frame) {
	switch msg := frame.Message.(type) {
	case wire.MsgConnection:
		d.handleConnection(conn, msg)
	case wire.MsgStatus:
		d.handleStatus(conn, msg)
	case wire.MsgNoJobAvailable:
		d.handleNoJobAvailable(conn)
	case wire.MsgJob:
		d.handleJob(conn, msg, frame.Payload)
	case wire.MsgManifest:
		d.handleManifest(conn, msg, frame.Payload)
	case wire.MsgFile:
		d.handleFile(conn, msg)
	case wire.MsgSetMode:
		d.handleSetMode(msg)
	case wire.MsgAddBlockingProcess:
		d.handleAddBlockingProcess(msg)
	case wire.MsgRemoveBlockingProcess:
		d.handleRemoveBlockingProcess(msg)
	case wire.MsgRequestServerInfo:
		d.handleRequestServerInfo(conn, msg)
	default:
		logger.Warn("workerd: unexpected message %s from %s", msg.Tag(), conn.RemoteAddr)
	}
}

func (d *Daemon) onDisconnect(conn *connpool.Connection, err error) {
	d.mu.Lock()
	delete(d.sessions, conn)
	d.mu.Unlock()
	logger.Info("workerd: %s disconnected: %v", conn.RemoteAddr, err)
}

// handleConnection is the protocol handshake (spec.md §4.A): "On TCP
// accept, the worker awaits a Connection message. A version mismatch
// must cause the worker to close; this is the only version gate."
func (d *Daemon) handleConnection(conn *connpool.Connection, msg wire.MsgConnection) {
	if msg.ProtocolVersion != distclient.ProtocolVersion {
		logger.Warn("workerd: %s speaks protocol %d, closing", conn.RemoteAddr, msg.ProtocolVersion)
		conn.Close()
		return
	}
	s := &session{clientHost: msg.HostName, advertised: msg.NumJobsAvailable, manifests: make(map[uint64]manifest.Manifest)}
	d.mu.Lock()
	d.sessions[conn] = s
	d.mu.Unlock()
	d.maybeRequestJob(conn, s)
}

func (d *Daemon) handleStatus(conn *connpool.Connection, msg wire.MsgStatus) {
	s := d.session(conn)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.advertised = msg.NumJobsAvailable
	s.mu.Unlock()
	d.maybeRequestJob(conn, s)
}

func (d *Daemon) handleNoJobAvailable(conn *connpool.Connection) {
	s := d.session(conn)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.jobRequested = false
	s.mu.Unlock()
	time.AfterFunc(d.cfg.RequestRetryInterval, func() { d.maybeRequestJob(conn, s) })
}

// maybeRequestJob sends RequestJob when the worker's mode/blocking state
// permits accepting work and the client has advertised availability
// (spec.md §4.H / original_source's Worker idle-detection gate).
func (d *Daemon) maybeRequestJob(conn *connpool.Connection, s *session) {
	mode := d.Mode()
	if mode == workersettings.ModeDisabled || d.isBlocked() {
		return
	}
	if mode == workersettings.ModeWhenIdle || mode == workersettings.ModeProportional {
		snap, err := d.detector.Snapshot()
		if err == nil && snap.NumCPUIdle == 0 && snap.NumCPUTotal > 0 {
			return
		}
	}

	s.mu.Lock()
	ready := !s.jobRequested && !s.jobInFlight && s.advertised > 0
	if ready {
		s.jobRequested = true
	}
	s.mu.Unlock()
	if !ready {
		return
	}
	if err := conn.Send(wire.MsgRequestJob{}, nil); err != nil {
		logger.Debug("workerd: request job to %s failed: %v", conn.RemoteAddr, err)
	}
}

// handleJob decodes the demo job envelope and, for any tool ID not yet
// seen on this connection, fetches its manifest before "building" (spec.md
// §4.E's RequestManifest/RequestFile round trip; the actual compiler
// invocation is external per spec.md §1 Non-goals, so building here is a
// deterministic stand-in that always succeeds).
func (d *Daemon) handleJob(conn *connpool.Connection, msg wire.MsgJob, payload []byte) {
	s := d.session(conn)
	if s == nil {
		return
	}
	job, err := demojob.UnmarshalPayload(payload)
	if err != nil {
		logger.Warn("workerd: malformed job payload from %s: %v", conn.RemoteAddr, err)
		conn.Close()
		return
	}

	s.mu.Lock()
	s.jobRequested = false
	s.jobInFlight = true
	s.job = job
	s.jobStarted = time.Now()
	_, known := s.manifests[msg.ToolID]
	s.mu.Unlock()

	if d.metrics != nil {
		d.metrics.WorkerJobsInFlight.Inc()
	}

	if known {
		d.finishJob(conn, s)
		return
	}
	if err := conn.Send(wire.MsgRequestManifest{ToolID: msg.ToolID}, nil); err != nil {
		logger.Debug("workerd: request manifest from %s failed: %v", conn.RemoteAddr, err)
	}
}

func (d *Daemon) handleManifest(conn *connpool.Connection, msg wire.MsgManifest, payload []byte) {
	s := d.session(conn)
	if s == nil {
		return
	}
	m, err := manifest.Unmarshal(payload)
	if err != nil {
		logger.Warn("workerd: malformed manifest from %s: %v", conn.RemoteAddr, err)
		conn.Close()
		return
	}

	s.mu.Lock()
	s.manifests[msg.ToolID] = m
	hasFiles := len(m.Files) > 0
	var firstFileID uint32
	if hasFiles {
		firstFileID = m.Files[0].FileID
	}
	s.mu.Unlock()

	if !hasFiles {
		d.finishJob(conn, s)
		return
	}
	if err := conn.Send(wire.MsgRequestFile{ToolID: msg.ToolID, FileID: firstFileID}, nil); err != nil {
		logger.Debug("workerd: request file from %s failed: %v", conn.RemoteAddr, err)
	}
}

func (d *Daemon) handleFile(conn *connpool.Connection, msg wire.MsgFile) {
	s := d.session(conn)
	if s == nil {
		return
	}
	// File bytes would feed the real compiler invocation here; this demo
	// daemon only needs to have exercised the request/reply round trip.
	d.finishJob(conn, s)
}

// finishJob reports a deterministic success, writing the fixed-order
// output buffers spec.md §4.E describes (primary object, optional PDB,
// optional static-analysis XML) as small placeholder blobs.
func (d *Daemon) finishJob(conn *connpool.Connection, s *session) {
	s.mu.Lock()
	job := s.job
	buildTime := time.Since(s.jobStarted)
	s.jobInFlight = false
	s.mu.Unlock()

	outputs := [][]byte{[]byte("OBJ:" + job.NodeName)}
	if job.HasPDB {
		outputs = append(outputs, []byte("PDB:"+job.NodeName))
	}
	if job.HasStaticXML {
		outputs = append(outputs, []byte("<xml/>"))
	}

	result := wire.JobResultPayload{
		JobID:       job.JobID,
		NodeName:    job.NodeName,
		Success:     true,
		BuildTimeMS: uint64(buildTime.Milliseconds()),
		OutputFiles: outputs,
	}
	if err := conn.Send(wire.MsgJobResult{}, result.Marshal()); err != nil {
		logger.Debug("workerd: job result to %s failed: %v", conn.RemoteAddr, err)
	}
	if d.metrics != nil {
		d.metrics.WorkerJobsInFlight.Dec()
	}
	d.maybeRequestJob(conn, s)
}

// handleSetMode applies a mode switch after its grace period (spec.md
// §4.F "Switch worker mode with a grace-period").
func (d *Daemon) handleSetMode(msg wire.MsgSetMode) {
	if d.metrics != nil {
		d.metrics.RecordControlCommand("setmode")
	}
	newMode := workersettings.Mode(msg.Mode)
	grace := time.Duration(msg.GracePeriod) * time.Second
	apply := func() {
		d.mu.Lock()
		d.mode = newMode
		d.mu.Unlock()
		logger.Info("workerd: mode switched to %d", newMode)
	}
	if grace <= 0 {
		apply()
		return
	}
	time.AfterFunc(grace, apply)
}

// handleAddBlockingProcess pauses job acceptance until pid terminates
// (spec.md §4.A tag 14), polling liveness the way a process-group
// coordinator would (no portable "wait for foreign pid" primitive in Go).
func (d *Daemon) handleAddBlockingProcess(msg wire.MsgAddBlockingProcess) {
	if d.metrics != nil {
		d.metrics.RecordControlCommand("addblocking")
	}
	done := make(chan struct{})
	d.mu.Lock()
	if existing, ok := d.blockingByPID[msg.PID]; ok {
		close(existing)
	}
	d.blockingByPID[msg.PID] = done
	d.mu.Unlock()

	go d.pollBlockingPID(msg.PID, done)
}

func (d *Daemon) pollBlockingPID(pid uint32, done chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			alive, err := process.PidExists(int32(pid))
			if err != nil || !alive {
				d.mu.Lock()
				if d.blockingByPID[pid] == done {
					delete(d.blockingByPID, pid)
				}
				d.mu.Unlock()
				return
			}
		}
	}
}

// handleRemoveBlockingProcess undoes AddBlockingProcess (spec.md §4.A tag 15).
func (d *Daemon) handleRemoveBlockingProcess(msg wire.MsgRemoveBlockingProcess) {
	if d.metrics != nil {
		d.metrics.RecordControlCommand("removeblocking")
	}
	d.mu.Lock()
	if done, ok := d.blockingByPID[msg.PID]; ok {
		close(done)
		delete(d.blockingByPID, msg.PID)
	}
	d.mu.Unlock()
}

// handleRequestServerInfo replies with the worker's current status
// (spec.md §4.F "display_info"), with per-CPU detail when requested.
func (d *Daemon) handleRequestServerInfo(conn *connpool.Connection, msg wire.MsgRequestServerInfo) {
	if d.metrics != nil {
		d.metrics.RecordControlCommand("requestserverinfo")
		if snap, err := d.detector.Snapshot(); err == nil && snap.NumCPUTotal > 0 {
			d.metrics.WorkerCPUBusyFraction.Set(float64(snap.NumCPUBusy) / float64(snap.NumCPUTotal))
		}
	}

	snap, err := d.detector.Snapshot()
	if err != nil {
		logger.Warn("workerd: resource detector failed: %v", err)
	}

	d.mu.Lock()
	numBlocking := len(d.blockingByPID)
	if d.blockedByName {
		numBlocking++
	}
	numClients := len(d.sessions)
	mode := d.mode
	d.mu.Unlock()

	reply := wire.MsgServerInfo{
		Mode:                 uint8(mode),
		NumClients:           uint16(numClients),
		NumCPUTotal:          snap.NumCPUTotal,
		NumCPUAvailable:      snap.NumCPUIdle,
		NumCPUBusy:           snap.NumCPUBusy,
		NumBlockingProcesses: uint16(numBlocking),
		CPUUsageTotal:        snap.CPUUsageTotal,
		WithDetails:          msg.DetailsLevel > 0,
	}

	var payload []byte
	if reply.WithDetails {
		details := make([]wire.ServerInfoDetail, len(snap.PerCPUBusy))
		for i, busy := range snap.PerCPUBusy {
			details[i] = wire.ServerInfoDetail{
				Idle:      !busy,
				Busy:      busy,
				HostName:  d.cfg.HostName,
				JobStatus: coreJobStatus(busy),
			}
		}
		payload = wire.MarshalServerInfoDetails(details)
	}

	if err := conn.Send(reply, payload); err != nil {
		logger.Debug("workerd: server info reply to %s failed: %v", conn.RemoteAddr, err)
	}
}

func coreJobStatus(busy bool) string {
	if busy {
		return "building"
	}
	return "idle"
}

func (d *Daemon) session(conn *connpool.Connection) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[conn]
}
