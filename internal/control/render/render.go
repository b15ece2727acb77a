// Package render formats a RequestServerInfo round-trip's results for
// display_info (spec.md §4.F): a bordered ASCII table for a positive
// level, a JSON array for a negative one, with per-CPU detail in either
// form when |level| >= 2. No table-rendering library appears anywhere in
// the retrieval pack and a fixed-column monospace table is a handful of
// fmt.Fprintf calls, so this is deliberately stdlib-only.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/InSimo/fastbuild/internal/serverstate"
)

// Row is one worker's contribution to display_info: only entries with
// control_success set contribute a row (spec.md §4.F).
type Row struct {
	Name string
	Info serverstate.Info
}

// Collect gathers a Row for every entry whose last control command
// succeeded, in table order.
func Collect(entries []*serverstate.Entry) []Row {
	var rows []Row
	for _, e := range entries {
		_, _, success, _ := e.ControlFlags()
		if !success {
			continue
		}
		info, ok := e.Info()
		if !ok {
			continue
		}
		rows = append(rows, Row{Name: e.Name, Info: info})
	}
	return rows
}

// Table renders rows as a bordered ASCII table. detailed adds a per-CPU
// block under each row when the caller's |level| >= 2.
func Table(rows []Row, detailed bool) string {
	var b strings.Builder
	const border = "+----------------------+------+--------+------+------+------+--------+"
	fmt.Fprintln(&b, border)
	fmt.Fprintf(&b, "| %-20s | %4s | %6s | %4s | %4s | %4s | %6s |\n",
		"Worker", "Mode", "Client", "CPUs", "Idle", "Busy", "Block")
	fmt.Fprintln(&b, border)
	for _, r := range rows {
		fmt.Fprintf(&b, "| %-20s | %4d | %6d | %4d | %4d | %4d | %6d |\n",
			truncate(r.Name, 20), r.Info.Mode, r.Info.NumClients,
			r.Info.NumCPUTotal, r.Info.NumCPUIdle, r.Info.NumCPUBusy,
			r.Info.NumBlockingProcesses)
		if detailed {
			for i := range r.Info.WorkerIdle {
				status := "busy"
				if r.Info.WorkerIdle[i] {
					status = "idle"
				}
				fmt.Fprintf(&b, "|   cpu %-3d %-11s | %-58s |\n", i, status, jobStatusOrDash(r.Info, i))
			}
		}
	}
	fmt.Fprintln(&b, border)
	return b.String()
}

func jobStatusOrDash(info serverstate.Info, i int) string {
	if i < len(info.JobStatus) && info.JobStatus[i] != "" {
		return truncate(info.JobStatus[i], 58)
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// jsonRow is the per-worker shape emitted by JSON.
type jsonRow struct {
	Worker               string   `json:"worker"`
	Mode                 uint8    `json:"mode"`
	NumClients           uint16   `json:"num_clients"`
	NumCPUTotal          uint16   `json:"num_cpus_total"`
	NumCPUIdle           uint16   `json:"num_cpus_idle"`
	NumCPUBusy           uint16   `json:"num_cpus_busy"`
	NumBlockingProcesses uint16   `json:"num_blocking_processes"`
	CPUUsageFASTBuild    float32  `json:"cpu_usage_fastbuild"`
	CPUUsageTotal        float32  `json:"cpu_usage_total"`
	WorkerIdle           []bool   `json:"worker_idle,omitempty"`
	WorkerBusy           []bool   `json:"worker_busy,omitempty"`
	JobStatus            []string `json:"job_status,omitempty"`
}

// JSON renders rows as a JSON array (spec.md §4.F, negative level), with
// per-CPU arrays included only when detailed is set.
func JSON(rows []Row, detailed bool) ([]byte, error) {
	out := make([]jsonRow, 0, len(rows))
	for _, r := range rows {
		jr := jsonRow{
			Worker:               r.Name,
			Mode:                 r.Info.Mode,
			NumClients:           r.Info.NumClients,
			NumCPUTotal:          r.Info.NumCPUTotal,
			NumCPUIdle:           r.Info.NumCPUIdle,
			NumCPUBusy:           r.Info.NumCPUBusy,
			NumBlockingProcesses: r.Info.NumBlockingProcesses,
			CPUUsageFASTBuild:    r.Info.CPUUsageFASTBuild,
			CPUUsageTotal:        r.Info.CPUUsageTotal,
		}
		if detailed {
			jr.WorkerIdle = r.Info.WorkerIdle
			jr.WorkerBusy = r.Info.WorkerBusy
			jr.JobStatus = r.Info.JobStatus
		}
		out = append(out, jr)
	}
	return json.MarshalIndent(out, "", "  ")
}
