// Package procgroup implements the single-instance wrapper trio (spec.md
// §4.G): a main process, a detached intermediate process, and a final
// build process, coordinated through two file locks and a small JSON
// state file standing in for original_source's two named OS mutexes and
// one named shared-memory segment (there is no portable named-mutex
// primitive in Go). It also carries Group, the generalized form of the
// teacher's goroutine-lifecycle coordinator (common/testing_system.go).
package procgroup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/InSimo/fastbuild/internal/procgroup/filelock"
)

// Exit codes, process-wide (spec.md §6).
const (
	ExitOK                       = 0
	ExitBuildFailure             = -1
	ExitGraphLoadError           = -2
	ExitBadArgs                  = -3
	ExitAlreadyRunning           = -4
	ExitWrapperSpawnFailure      = -5
	ExitWrapperFinalSpawnFailure = -6
	ExitWrapperCrashed           = -7
)

// WrapperCrashed is the shared-state sentinel return code stored before
// the final process has reported a real result (spec.md §4.G
// "initialised with return_code = WRAPPER_CRASHED").
const WrapperCrashed int32 = ExitWrapperCrashed

// Canonicalize resolves dir to the canonical form spec.md §4.G's hash is
// derived from: an absolute path with symlinks resolved, lower-cased on
// case-insensitive platforms (Windows, macOS).
func Canonicalize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("procgroup: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		resolved = abs // path may not exist yet; best effort
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		resolved = strings.ToLower(resolved)
	}
	return resolved, nil
}

// Hash8 is the 32-bit hash naming the pair of locks and the shared state
// file (spec.md §4.G, §6).
func Hash8(canonicalPath string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(canonicalPath))
	return h.Sum32()
}

// Names are the three on-disk names derived from a canonical working
// directory, standing in for the two named mutexes (FASTBuild-<hash8>,
// FASTBuild_Final-<hash8>) and the named shared memory
// (FASTBuildSharedMemory_<hash8>) of spec.md §6.
type Names struct {
	MainLock   string
	FinalLock  string
	SharedFile string
}

// DeriveNames builds Names under runtimeDir (typically os.TempDir()) for
// a working directory already passed through Canonicalize.
func DeriveNames(runtimeDir, canonicalPath string) Names {
	h := Hash8(canonicalPath)
	return Names{
		MainLock:   filepath.Join(runtimeDir, fmt.Sprintf("fastbuild-main-%08x.lock", h)),
		FinalLock:  filepath.Join(runtimeDir, fmt.Sprintf("fastbuild-final-%08x.lock", h)),
		SharedFile: filepath.Join(runtimeDir, fmt.Sprintf("fastbuild-shared-%08x.json", h)),
	}
}

// SharedState is the JSON file standing in for spec.md §6's named shared
// memory segment ({ started: bool, return_code: i32 }).
type SharedState struct {
	Started    bool  `json:"started"`
	ReturnCode int32 `json:"return_code"`
}

// WriteSharedState atomically (write-temp + rename) replaces path's
// contents with state.
func WriteSharedState(path string, state SharedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("procgroup: write shared state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("procgroup: rename shared state: %w", err)
	}
	return nil
}

// ReadSharedState reads a previously-written SharedState. ok is false if
// the file doesn't exist yet, e.g. the main process never started or
// crashed before initializing it.
func ReadSharedState(path string) (state SharedState, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return SharedState{}, false, nil
	}
	if err != nil {
		return SharedState{}, false, fmt.Errorf("procgroup: read shared state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return SharedState{}, false, fmt.Errorf("procgroup: decode shared state: %w", err)
	}
	return state, true, nil
}

// pollInterval is the wrapper's shared-memory startup poll (spec.md §5:
// "the wrapper 1-ms shared-memory startup poll").
const pollInterval = time.Millisecond

// Coordinator drives the three wrapper roles against one working
// directory's derived Names.
type Coordinator struct {
	names Names
}

// NewCoordinator builds a Coordinator over names (see DeriveNames).
func NewCoordinator(names Names) *Coordinator {
	return &Coordinator{names: names}
}

// RunMain implements the MainProcess role (spec.md §4.G): takes the main
// lock (failing with an "already running" error if another instance
// holds it), creates the shared state file, spawns an intermediate child
// (selfExe re-invoked with intermediateArgs) and waits for it to exit,
// then polls for the final process to start and finish, returning its
// reported exit code.
func (c *Coordinator) RunMain(ctx context.Context, selfExe string, intermediateArgs []string) (int32, error) {
	mainLock, ok, err := filelock.TryAcquire(c.names.MainLock)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("procgroup: another instance is already running in this directory")
	}
	defer mainLock.Close()

	if err := WriteSharedState(c.names.SharedFile, SharedState{Started: false, ReturnCode: WrapperCrashed}); err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, selfExe, intermediateArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("procgroup: spawn intermediate process: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("procgroup: intermediate process: %w", err)
		}
		// Its own exit status doesn't matter: it detaches immediately.
	}

	for {
		if state, ok, _ := ReadSharedState(c.names.SharedFile); ok && state.Started {
			break
		}
		if err := sleepOrDone(ctx, pollInterval); err != nil {
			return WrapperCrashed, err
		}
	}
	for {
		held, err := filelock.Held(c.names.FinalLock)
		if err != nil {
			return 0, err
		}
		if !held {
			break
		}
		if err := sleepOrDone(ctx, pollInterval); err != nil {
			return WrapperCrashed, err
		}
	}

	state, ok, err := ReadSharedState(c.names.SharedFile)
	if err != nil {
		return 0, err
	}
	if !ok {
		return WrapperCrashed, nil
	}
	return state.ReturnCode, nil
}

// RunIntermediate implements the IntermediateProcess role: spawn the
// final process (selfExe re-invoked with finalArgs) detached in its own
// session, and return immediately without waiting — severing the
// parent-child relationship so an IDE's job-control signals can't
// propagate to the final build process.
func (c *Coordinator) RunIntermediate(selfExe string, finalArgs []string) error {
	cmd := exec.Command(selfExe, finalArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("procgroup: spawn final process: %w", err)
	}
	return nil
}

// RunFinal implements the FinalProcess role: wait to acquire the final
// lock (polling while confirming the main lock is still held by its
// parent), run build, and report its result through the shared state
// file. Returns ExitWrapperFinalSpawnFailure if the main process is no
// longer present — either it aborted before the final process could
// acquire its lock, or it was killed while the final process was
// waiting (original_source Main.cpp FBUILD_FAILED_TO_SPAWN_WRAPPER_FINAL).
func (c *Coordinator) RunFinal(ctx context.Context, build func() int32) int32 {
	for {
		held, err := filelock.Held(c.names.MainLock)
		if err != nil {
			return WrapperCrashed
		}
		if !held {
			return ExitWrapperFinalSpawnFailure
		}
		lock, ok, err := filelock.TryAcquire(c.names.FinalLock)
		if err != nil {
			return WrapperCrashed
		}
		if ok {
			defer lock.Close()
			break
		}
		if sleepOrDone(ctx, pollInterval) != nil {
			return WrapperCrashed
		}
	}

	if _, ok, _ := ReadSharedState(c.names.SharedFile); !ok {
		return ExitWrapperFinalSpawnFailure
	}
	_ = WriteSharedState(c.names.SharedFile, SharedState{Started: true, ReturnCode: WrapperCrashed})

	code := build()

	_ = WriteSharedState(c.names.SharedFile, SharedState{Started: true, ReturnCode: code})
	return code
}

// WaitForMainLock implements the -wait option: poll once per second for
// the main lock to become free, honoring ctx cancellation (spec.md §4.G,
// §5 "the -wait 1-second mutex poll").
func (c *Coordinator) WaitForMainLock(ctx context.Context) error {
	for {
		held, err := filelock.Held(c.names.MainLock)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		if err := sleepOrDone(ctx, time.Second); err != nil {
			return err
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
