// Package resource implements the worker-side resource/idle detector
// (spec.md §4.H): interface surface only, no sandboxing or job execution.
// Detector's one concrete implementation is grounded on
// mooncorn-dockyard/worker's ResourceBudget.autoDetectResources, the only
// gopsutil usage in the retrieval pack.
package resource

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// idleThresholdPercent mirrors original_source's
// IDLE_DETECTION_THRESHOLD_PERCENT: a core busier than this is "busy".
const idleThresholdPercent = 20.0

// Snapshot carries the scalar and per-CPU fields MsgServerInfo needs
// (spec.md §4.A "ServerInfo"): total/idle/busy CPU counts, an aggregate
// CPU% figure, and a per-core busy flag for the detailed reply payload.
type Snapshot struct {
	NumCPUTotal   uint16
	NumCPUIdle    uint16
	NumCPUBusy    uint16
	CPUUsageTotal float32
	PerCPUBusy    []bool // len == NumCPUTotal
}

// Detector reports the current machine's CPU availability.
type Detector interface {
	Snapshot() (Snapshot, error)
}

// gopsutilDetector samples per-core CPU usage via
// github.com/shirou/gopsutil/v3/cpu.
type gopsutilDetector struct{}

// NewGopsutilDetector builds the gopsutil-backed Detector.
func NewGopsutilDetector() Detector {
	return gopsutilDetector{}
}

func (gopsutilDetector) Snapshot() (Snapshot, error) {
	perCore, err := cpu.Percent(0, true)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		NumCPUTotal: uint16(len(perCore)),
		PerCPUBusy:  make([]bool, len(perCore)),
	}
	var total float64
	for i, pct := range perCore {
		total += pct
		busy := pct >= idleThresholdPercent
		snap.PerCPUBusy[i] = busy
		if busy {
			snap.NumCPUBusy++
		} else {
			snap.NumCPUIdle++
		}
	}
	if len(perCore) > 0 {
		snap.CPUUsageTotal = float32(total / float64(len(perCore)))
	}
	return snap, nil
}

// staticDetector is the trivial runtime.NumCPU()-based fallback for
// platforms gopsutil can't probe: it reports every core idle.
type staticDetector struct{}

// NewStaticDetector builds the stdlib-only fallback Detector.
func NewStaticDetector() Detector {
	return staticDetector{}
}

func (staticDetector) Snapshot() (Snapshot, error) {
	n := runtime.NumCPU()
	return Snapshot{
		NumCPUTotal: uint16(n),
		NumCPUIdle:  uint16(n),
		PerCPUBusy:  make([]bool, n),
	}, nil
}
