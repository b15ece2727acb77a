package main

import (
	"context"
	"os"

	"github.com/InSimo/fastbuild/internal/logger"
	"github.com/InSimo/fastbuild/internal/procgroup"
)

// wrapperNames derives the lock/shared-state names for the current
// working directory (spec.md §4.G, §6: hash8 of the canonical path).
func wrapperNames() procgroup.Names {
	return procgroup.DeriveNames(os.TempDir(), mustCanonicalize("."))
}

// runWrapperMain implements -wrapper: MainProcess spawns -wrapperintermediate
// and blocks until the final process's return code is available.
func runWrapperMain(flags *Flags) int32 {
	selfExe, err := os.Executable()
	if err != nil {
		logger.Error("fbuild: -wrapper: can not resolve self executable: %v", err)
		return procgroup.ExitWrapperSpawnFailure
	}

	coordinator := procgroup.NewCoordinator(wrapperNames())
	code, err := coordinator.RunMain(context.Background(), selfExe, append([]string{"-wrapperintermediate"}, passthroughArgs(os.Args[1:])...))
	if err != nil {
		logger.Error("fbuild: -wrapper: %v", err)
		return procgroup.ExitWrapperSpawnFailure
	}
	return code
}

// runWrapperIntermediate implements -wrapperintermediate: detaches and
// spawns -wrapperfinal, then exits immediately so MainProcess's child
// handle doesn't keep FinalProcess tied to MainProcess's console/group.
func runWrapperIntermediate(flags *Flags) int32 {
	selfExe, err := os.Executable()
	if err != nil {
		logger.Error("fbuild: -wrapperintermediate: can not resolve self executable: %v", err)
		return procgroup.ExitWrapperFinalSpawnFailure
	}

	coordinator := procgroup.NewCoordinator(wrapperNames())
	if err := coordinator.RunIntermediate(selfExe, append([]string{"-wrapperfinal"}, passthroughArgs(os.Args[1:])...)); err != nil {
		logger.Error("fbuild: -wrapperintermediate: %v", err)
		return procgroup.ExitWrapperFinalSpawnFailure
	}
	return procgroup.ExitOK
}

// runWrapperFinal implements -wrapperfinal: the actual build runs here,
// gated on holding the final lock while MainProcess's lock is still live.
func runWrapperFinal(flags *Flags) int32 {
	coordinator := procgroup.NewCoordinator(wrapperNames())
	return coordinator.RunFinal(context.Background(), func() int32 {
		return run(flags)
	})
}

// passthroughArgs strips the wrapper-role flags themselves so the next
// process in the trio doesn't re-enter the same branch.
func passthroughArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		switch a {
		case "-wrapper", "-wrapperintermediate", "-wrapperfinal":
			continue
		}
		out = append(out, a)
	}
	return out
}
