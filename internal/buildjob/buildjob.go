// Package buildjob defines the narrow interfaces the distribution core
// consumes from the (externally owned) dependency-graph and node-level
// build logic. The core never constructs a Job or Node itself; it only
// asks a JobSource for the next distributable job and reports outcomes
// back to it. Interface shape is grounded on the teacher's
// master/queue.IQueue (Submit/JobCompleted/RescheduleJob/NextJob),
// renamed to this domain.
package buildjob

// DistributionState tracks where a Job stands relative to remote
// dispatch (spec.md §3).
type DistributionState int

const (
	NotDistributed DistributionState = iota
	Sent
	RaceWonRemotely
)

// CompilerFamily distinguishes the compiler-specific warning
// post-processing a Node's messages get on successful build (spec.md
// §4.E: "MSVC vs Clang/GCC").
type CompilerFamily int

const (
	CompilerOther CompilerFamily = iota
	CompilerMSVC
	CompilerClang
	CompilerGCC
)

// Node is the owning build action of a Job: the thing that knows its
// name, where its outputs land on disk, and how to record build
// outcomes. Node-level build logic (dependency analysis, command-line
// construction) itself is out of scope (spec.md §1 Non-goals); this
// interface only covers what dispatch needs to commit a remote result.
type Node interface {
	Name() string
	ManifestToolID() uint64

	// ObjectPath is where the primary compiled output is written; it is
	// always the first buffer in a successful JobResult.
	ObjectPath() string
	// PDBPath reports the second output buffer's destination, if this
	// node was compiled with a program database.
	PDBPath() (path string, ok bool)
	// StaticAnalysisXMLPath reports the third output buffer's
	// destination, if static analysis output was requested.
	StaticAnalysisXMLPath() (path string, ok bool)

	CompilerFamily() CompilerFamily
	WarningsAsErrors() bool

	// CacheWriteEligible reports whether this node permits the result
	// to be committed to the compile cache on success.
	CacheWriteEligible() bool
	// CacheKey is the content-addressed key under which to store the
	// output (key derivation itself is external per spec §1 Non-goals).
	CacheKey() string

	// RecordBuildSuccess stamps the node's modification time and
	// build-time/stats bookkeeping after every output file has been
	// written.
	RecordBuildSuccess(buildTimeMS uint64, remote bool)
	// RecordBuildFailure marks the node failed, e.g. after a write
	// error or a non-system build failure.
	RecordBuildFailure()
	// SetCompileOutput records the collected build messages (warnings
	// or failure text) for reporting to the user.
	SetCompileOutput(messages []string)
}

// Job is opaque to the core beyond this interface (spec.md §3: "the
// core only requires a numeric job_id unique within the client, a
// serializable form, a system_error_count, a distribution_state, and
// accessors for the owning node").
type Job interface {
	JobID() uint64
	Node() Node
	Serialize() ([]byte, error)

	SystemErrorCount() int
	IncrementSystemErrorCount()

	DistributionState() DistributionState
	SetDistributionState(DistributionState)
}

// JobSource is what the distribution loop pulls distributable work
// from and reports completion/failure back to.
type JobSource interface {
	// NextDistributableJob returns the next job ready for remote
	// dispatch, or nil if none is currently available.
	NextDistributableJob() Job

	// StillWanted reports whether a job previously handed out for
	// remote dispatch should still be processed on return, or was
	// invalidated locally in the meantime (e.g. raced and completed
	// another way while in flight).
	StillWanted(job Job) bool

	// NumDistributableJobsAvailable is the count advertised to workers
	// via MsgStatus/MsgConnection.
	NumDistributableJobsAvailable() uint32

	// Requeue returns a job to the pending pool, e.g. after the worker
	// holding it disconnects.
	Requeue(job Job)

	// MarkSystemError records a worker-side infrastructure failure for
	// job (distinct from a normal build failure); the caller decides
	// whether to retry based on the job's SystemErrorCount.
	MarkSystemError(job Job)

	// Complete records a terminal result: success or a genuine build
	// failure (not a system error).
	Complete(job Job, success bool)
}
