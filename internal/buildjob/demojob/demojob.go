// Package demojob is a concrete, self-describing buildjob.Job/Node pair
// for exercising cmd/fbuild and cmd/fworker end to end without a real
// dependency graph or compiler (spec.md §1 Non-goals keep both external).
// It plays the same "scaffolding, not the graph itself" role as
// internal/buildjob/memqueue: original_source's client and worker share
// one Job class and serialize it directly; here the core's Job interface
// stays opaque (Serialize() []byte) while this package is the one place
// that defines what those bytes mean, so a worker process in the same
// module can decode what a client process encoded. Grounded on the
// fakeJob/fakeNode test doubles in internal/dispatch/dispatch_test.go,
// generalized into an exported type the way memqueue generalizes
// dispatch_test.go's fakeJobSource.
package demojob

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/InSimo/fastbuild/internal/buildjob"
)

// Payload is the wire encoding of a demo Job (spec.md §3: Job's
// "serializable form"), following internal/wire's length-prefixed-string
// convention.
type Payload struct {
	JobID        uint64
	ToolID       uint64
	NodeName     string
	Command      string
	HasPDB       bool
	HasStaticXML bool
}

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.NativeEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("demojob: truncated string length")
	}
	n := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return "", nil, fmt.Errorf("demojob: truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

// Marshal encodes p for MsgJob's payload.
func (p Payload) Marshal() []byte {
	buf := make([]byte, 0, 64+len(p.NodeName)+len(p.Command))
	var scratch [8]byte
	binary.NativeEndian.PutUint64(scratch[:], p.JobID)
	buf = append(buf, scratch[:]...)
	binary.NativeEndian.PutUint64(scratch[:], p.ToolID)
	buf = append(buf, scratch[:]...)
	buf = putString(buf, p.NodeName)
	buf = putString(buf, p.Command)
	flags := byte(0)
	if p.HasPDB {
		flags |= 1
	}
	if p.HasStaticXML {
		flags |= 2
	}
	return append(buf, flags)
}

// UnmarshalPayload decodes a Payload previously produced by Marshal.
func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	if len(b) < 16 {
		return p, fmt.Errorf("demojob: truncated payload header")
	}
	p.JobID = binary.NativeEndian.Uint64(b[0:8])
	p.ToolID = binary.NativeEndian.Uint64(b[8:16])
	b = b[16:]
	var err error
	p.NodeName, b, err = getString(b)
	if err != nil {
		return p, err
	}
	p.Command, b, err = getString(b)
	if err != nil {
		return p, err
	}
	if len(b) < 1 {
		return p, fmt.Errorf("demojob: truncated payload flags")
	}
	p.HasPDB = b[0]&1 != 0
	p.HasStaticXML = b[0]&2 != 0
	return p, nil
}

// Node is a minimal buildjob.Node: a named action with fixed output
// paths and a mutex-guarded outcome recorded by internal/dispatch.
type Node struct {
	name             string
	toolID           uint64
	objectPath       string
	pdbPath          string
	staticXMLPath    string
	family           buildjob.CompilerFamily
	warningsAsErrors bool
	cacheEligible    bool
	cacheKey         string

	mu       sync.Mutex
	messages []string
	success  bool
	failed   bool
}

// NodeConfig describes one demo build action.
type NodeConfig struct {
	Name             string
	ToolID           uint64
	ObjectPath       string
	PDBPath          string // empty disables the PDB output buffer
	StaticXMLPath    string // empty disables the static-analysis output buffer
	Family           buildjob.CompilerFamily
	WarningsAsErrors bool
	CacheEligible    bool
	CacheKey         string
}

// NewNode builds a Node from cfg.
func NewNode(cfg NodeConfig) *Node {
	return &Node{
		name:             cfg.Name,
		toolID:           cfg.ToolID,
		objectPath:       cfg.ObjectPath,
		pdbPath:          cfg.PDBPath,
		staticXMLPath:    cfg.StaticXMLPath,
		family:           cfg.Family,
		warningsAsErrors: cfg.WarningsAsErrors,
		cacheEligible:    cfg.CacheEligible,
		cacheKey:         cfg.CacheKey,
	}
}

func (n *Node) Name() string          { return n.name }
func (n *Node) ManifestToolID() uint64 { return n.toolID }
func (n *Node) ObjectPath() string    { return n.objectPath }
func (n *Node) PDBPath() (string, bool) {
	return n.pdbPath, n.pdbPath != ""
}
func (n *Node) StaticAnalysisXMLPath() (string, bool) {
	return n.staticXMLPath, n.staticXMLPath != ""
}
func (n *Node) CompilerFamily() buildjob.CompilerFamily { return n.family }
func (n *Node) WarningsAsErrors() bool                  { return n.warningsAsErrors }
func (n *Node) CacheWriteEligible() bool                { return n.cacheEligible }
func (n *Node) CacheKey() string                        { return n.cacheKey }

func (n *Node) RecordBuildSuccess(buildTimeMS uint64, remote bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = true
}
func (n *Node) RecordBuildFailure() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = true
}
func (n *Node) SetCompileOutput(messages []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = messages
}

// Outcome reports the terminal state RecordBuildSuccess/Failure left, for
// a demo driver to print.
func (n *Node) Outcome() (success, failed bool, messages []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.success, n.failed, n.messages
}

var _ buildjob.Node = (*Node)(nil)

// Job pairs a Node with the job bookkeeping spec.md §3 requires.
type Job struct {
	id      uint64
	node    *Node
	command string

	mu        sync.Mutex
	sysErrors int
	state     buildjob.DistributionState
}

// NewJob builds a Job with a demo command string (unused by the core;
// carried only so a real worker-side executor would know what to run).
func NewJob(id uint64, node *Node, command string) *Job {
	return &Job{id: id, node: node, command: command}
}

func (j *Job) JobID() uint64       { return j.id }
func (j *Job) Node() buildjob.Node { return j.node }

func (j *Job) Serialize() ([]byte, error) {
	_, hasPDB := j.node.PDBPath()
	_, hasXML := j.node.StaticAnalysisXMLPath()
	return Payload{
		JobID:        j.id,
		ToolID:       j.node.ManifestToolID(),
		NodeName:     j.node.Name(),
		Command:      j.command,
		HasPDB:       hasPDB,
		HasStaticXML: hasXML,
	}.Marshal(), nil
}

func (j *Job) SystemErrorCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sysErrors
}
func (j *Job) IncrementSystemErrorCount() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sysErrors++
}
func (j *Job) DistributionState() buildjob.DistributionState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}
func (j *Job) SetDistributionState(s buildjob.DistributionState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

var _ buildjob.Job = (*Job)(nil)
