// Package dispatch implements the worker-facing half of job distribution
// (spec.md §4.E): answering RequestJob/RequestManifest/RequestFile and
// committing a JobResult to disk, the cache, and the dependency graph.
// It implements distclient.JobHandler; mirrors the request/response shape
// of the teacher's master/client_handlers.go and invoker/job_executor.go,
// driven by wire.Message instead of gin handlers or a sandboxed process.
package dispatch

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/InSimo/fastbuild/internal/buildjob"
	"github.com/InSimo/fastbuild/internal/dispatch/warnings"
	"github.com/InSimo/fastbuild/internal/distclient"
	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/manifest"
	"github.com/InSimo/fastbuild/internal/serverstate"
	"github.com/InSimo/fastbuild/internal/wire"
)

var _ distclient.JobHandler = (*Handler)(nil)

// systemErrorAttemptLimit mirrors original_source's
// SYSTEM_ERROR_ATTEMPT_COUNT: a job is abandoned, rather than retried
// elsewhere, once it has failed on this many distinct workers.
const systemErrorAttemptLimit = 3

// CompileCache is the external content-addressed compile cache (spec.md
// §1 Non-goals: "the content-addressed compile cache's key derivation
// and storage backend"). internal/dispatch/cacheadapter is the default
// in-memory stand-in.
type CompileCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// Config tunes dispatch-time behavior that isn't carried on the Node
// itself.
type Config struct {
	// MonitorEnabled gates START_JOB/FINISH_JOB monitor-line logging
	// (spec.md §4.E).
	MonitorEnabled bool
	// CacheWriteEnabled mirrors FBuildOptions::m_UseCacheWrite: even a
	// cache-eligible node is only committed when this is set (spec.md
	// §6's FASTBUILD_CACHE_MODE).
	CacheWriteEnabled bool
}

// ResultRecorder is an optional sink for terminal job outcomes, notified
// after every success/failure commit (SPEC_FULL.md's ledger/metrics
// addition). internal/ledger.Ledger and internal/metrics.Collector both
// satisfy the shape a caller-supplied adapter needs to implement this.
type ResultRecorder interface {
	RecordJobResult(nodeName string, success bool, buildTimeMS uint64)
}

// Handler answers the worker-originated job messages against a job
// source, a manifest provider, and an optional compile cache.
type Handler struct {
	cfg       Config
	jobs      buildjob.JobSource
	manifests manifest.Provider
	cache     CompileCache
	recorder  ResultRecorder
}

// New builds a Handler. cache may be nil, in which case cache-write is a
// no-op regardless of Config.CacheWriteEnabled.
func New(cfg Config, jobs buildjob.JobSource, manifests manifest.Provider, cache CompileCache) *Handler {
	return &Handler{cfg: cfg, jobs: jobs, manifests: manifests, cache: cache}
}

// SetResultRecorder attaches an optional sink notified after every
// terminal job outcome. Not required for HandleJobResult's own logic.
func (h *Handler) SetResultRecorder(r ResultRecorder) { h.recorder = r }

// HandleRequestJob answers MsgRequestJob (spec.md §4.E).
func (h *Handler) HandleRequestJob(entry *serverstate.Entry) {
	if !entry.BuildJobsEnabled() {
		h.send(entry, wire.MsgNoJobAvailable{}, nil)
		return
	}

	job := h.jobs.NextDistributableJob()
	if job == nil {
		h.send(entry, wire.MsgNoJobAvailable{}, nil)
		return
	}

	payload, err := job.Serialize()
	if err != nil {
		logger.Warn("dispatch: failed to serialize job %d for %s: %v", job.JobID(), entry.RemoteName(), err)
		h.jobs.Requeue(job)
		h.send(entry, wire.MsgNoJobAvailable{}, nil)
		return
	}

	entry.TrackJob(job)
	h.monitorf("START_JOB %s %s", entry.RemoteName(), job.Node().Name())
	h.send(entry, wire.MsgJob{ToolID: job.Node().ManifestToolID()}, payload)
}

// HandleRequestManifest answers MsgRequestManifest (spec.md §4.E): the
// requested tool must belong to a job currently in flight on this
// connection, or the request is a protocol error.
func (h *Handler) HandleRequestManifest(entry *serverstate.Entry, toolID uint64) {
	if !h.hasInFlightTool(entry, toolID) {
		logger.Warn("dispatch: %s requested manifest for tool %d with no matching in-flight job, disconnecting", entry.RemoteName(), toolID)
		h.disconnect(entry)
		return
	}

	m, err := h.manifests.Manifest(toolID)
	if err != nil {
		logger.Warn("dispatch: manifest lookup for tool %d failed: %v", toolID, err)
		h.disconnect(entry)
		return
	}
	h.send(entry, wire.MsgManifest{ToolID: toolID}, m.Marshal())
}

// HandleRequestFile answers MsgRequestFile (spec.md §4.E): same
// in-flight-tool lookup as RequestManifest, then a missing file ID is
// also a protocol error.
func (h *Handler) HandleRequestFile(entry *serverstate.Entry, toolID uint64, fileID uint32) {
	if !h.hasInFlightTool(entry, toolID) {
		logger.Warn("dispatch: %s requested file for tool %d with no matching in-flight job, disconnecting", entry.RemoteName(), toolID)
		h.disconnect(entry)
		return
	}

	data, err := h.manifests.File(toolID, fileID)
	if err != nil {
		logger.Warn("dispatch: file lookup for tool %d file %d failed: %v", toolID, fileID, err)
		h.disconnect(entry)
		return
	}
	h.send(entry, wire.MsgFile{ToolID: toolID, FileID: fileID}, data)
}

func (h *Handler) hasInFlightTool(entry *serverstate.Entry, toolID uint64) bool {
	for _, job := range entry.InFlightJobs() {
		if job.Node().ManifestToolID() == toolID {
			return true
		}
	}
	return false
}

// HandleJobResult answers MsgJobResult (spec.md §4.E).
func (h *Handler) HandleJobResult(entry *serverstate.Entry, payload []byte) {
	result, err := wire.UnmarshalJobResultPayload(payload)
	if err != nil {
		logger.Warn("dispatch: malformed job result from %s: %v", entry.RemoteName(), err)
		h.disconnect(entry)
		return
	}

	job, ok := entry.UntrackJob(result.JobID)
	if !ok {
		logger.Warn("dispatch: job result for untracked job %d from %s", result.JobID, entry.RemoteName())
		return
	}

	if !h.jobs.StillWanted(job) {
		// Raced locally (e.g. won elsewhere) and already resolved;
		// discard the remote result without touching the node.
		return
	}

	node := job.Node()
	success := result.Success
	var extraMessages []string
	if success {
		success, extraMessages = h.commitOutputs(node, result)
	}

	if success {
		h.onJobSucceeded(entry, job, node, result, extraMessages)
		return
	}
	h.onJobFailed(entry, job, node, result)
}

func (h *Handler) onJobSucceeded(entry *serverstate.Entry, job buildjob.Job, node buildjob.Node, result wire.JobResultPayload, extraMessages []string) {
	node.RecordBuildSuccess(result.BuildTimeMS, true)

	if h.cache != nil && h.cfg.CacheWriteEnabled && node.CacheWriteEligible() && len(result.OutputFiles) > 0 {
		h.cache.Put(node.CacheKey(), result.OutputFiles[0])
	}

	messages := result.Messages
	if !node.WarningsAsErrors() {
		if warn := warnings.Scan(node.CompilerFamily(), result.Messages); len(warn) > 0 {
			messages = warn
		}
	}
	messages = append(messages, extraMessages...)
	if len(messages) > 0 {
		node.SetCompileOutput(messages)
	}

	if h.recorder != nil {
		h.recorder.RecordJobResult(node.Name(), true, result.BuildTimeMS)
	}
	h.jobs.Complete(job, true)
	h.monitorf("FINISH_JOB SUCCESS %s %s %q", entry.RemoteName(), node.Name(), strings.Join(messages, "\n"))
}

func (h *Handler) onJobFailed(entry *serverstate.Entry, job buildjob.Job, node buildjob.Node, result wire.JobResultPayload) {
	if result.SystemError {
		job.IncrementSystemErrorCount()
		if job.SystemErrorCount() < systemErrorAttemptLimit {
			entry.SetBuildJobsEnabled(false)
			logger.Info("dispatch: remote system failure on %s for %s (error %d/%d), blacklisting worker",
				entry.RemoteName(), node.Name(), job.SystemErrorCount(), systemErrorAttemptLimit)
			h.jobs.Requeue(job)
			h.monitorf("FINISH_JOB ERROR %s %s %q", entry.RemoteName(), node.Name(), strings.Join(result.Messages, "\n"))
			return
		}
	}

	failureText := fmt.Sprintf("PROBLEM: %s\n%s", node.Name(), strings.Join(result.Messages, ""))
	node.SetCompileOutput([]string{failureText})
	node.RecordBuildFailure()
	if h.recorder != nil {
		h.recorder.RecordJobResult(node.Name(), false, result.BuildTimeMS)
	}
	h.jobs.Complete(job, false)
	h.monitorf("FINISH_JOB ERROR %s %s %q", entry.RemoteName(), node.Name(), strings.Join(result.Messages, "\n"))
}

// commitOutputs writes the multi-file output buffer to disk in the
// fixed order object/PDB/static-analysis-XML (spec.md §4.E), stopping at
// the first write failure. It returns any extra diagnostic messages
// decoded from a static-analysis report.
func (h *Handler) commitOutputs(node buildjob.Node, result wire.JobResultPayload) (bool, []string) {
	if len(result.OutputFiles) == 0 {
		return false, nil
	}
	idx := 0

	if !writeOutputFile(node.ObjectPath(), result.OutputFiles[idx]) {
		return false, nil
	}
	idx++

	if pdbPath, ok := node.PDBPath(); ok {
		if idx >= len(result.OutputFiles) || !writeOutputFile(pdbPath, result.OutputFiles[idx]) {
			return false, nil
		}
		idx++
	}

	var extraMessages []string
	if xmlPath, ok := node.StaticAnalysisXMLPath(); ok {
		if idx >= len(result.OutputFiles) {
			return false, nil
		}
		data := result.OutputFiles[idx]
		if !writeOutputFile(xmlPath, data) {
			return false, nil
		}
		idx++

		msgs, err := decodeStaticAnalysisXML(data)
		if err != nil {
			logger.Debug("dispatch: static analysis xml for %s did not decode: %v", node.Name(), err)
		} else {
			extraMessages = msgs
		}
	}

	return true, extraMessages
}

func writeOutputFile(path string, data []byte) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("dispatch: failed to create directory for %s: %v", path, err)
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("dispatch: failed to write %s: %v", path, err)
		return false
	}
	return true
}

// staticAnalysisReport is the MSVC /analyze:log.xml shape: a flat list
// of DEFECT elements under a DEFECTS root.
type staticAnalysisReport struct {
	XMLName xml.Name              `xml:"DEFECTS"`
	Defects []staticAnalysisDefect `xml:"DEFECT"`
}

type staticAnalysisDefect struct {
	DefectCode  string `xml:"DEFECTCODE,attr"`
	Description string `xml:"DESCRIPTION,attr"`
	FilePath    string `xml:"FILEPATH,attr"`
	Line        string `xml:"LINE,attr"`
}

// decodeStaticAnalysisXML parses the possibly-non-UTF8 static-analysis
// report into human-readable message lines, the same way the teacher
// decodes tool-generated checker XML (invoker/check_pipeline.go /
// invoker/test_pipeline.go): an xml.Decoder with CharsetReader set to
// golang.org/x/net/html/charset.NewReaderLabel.
func decodeStaticAnalysisXML(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var report staticAnalysisReport
	if err := dec.Decode(&report); err != nil {
		return nil, err
	}

	messages := make([]string, 0, len(report.Defects))
	for _, d := range report.Defects {
		messages = append(messages, fmt.Sprintf("%s(%s): warning %s: %s", d.FilePath, d.Line, d.DefectCode, d.Description))
	}
	return messages, nil
}

func (h *Handler) send(entry *serverstate.Entry, msg wire.Message, payload []byte) {
	conn := entry.Connection()
	if conn == nil {
		return
	}
	if err := conn.Send(msg, payload); err != nil {
		logger.Debug("dispatch: send to %s failed: %v", entry.RemoteName(), err)
	}
}

func (h *Handler) disconnect(entry *serverstate.Entry) {
	if conn := entry.Connection(); conn != nil {
		_ = conn.Close()
	}
}

func (h *Handler) monitorf(format string, args ...any) {
	if !h.cfg.MonitorEnabled {
		return
	}
	logger.Info("MONITOR: "+format, args...)
}
