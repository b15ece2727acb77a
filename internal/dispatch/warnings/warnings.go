// Package warnings classifies build-output lines as compiler warnings,
// split by compiler family, the way original_source's Client.cpp
// dispatches to FileNode::HandleWarningsMSVC or
// FileNode::HandleWarningsClangGCC after a successful remote compile
// when warnings-as-errors is not set (spec.md §4.E).
package warnings

import (
	"regexp"

	"github.com/InSimo/fastbuild/internal/buildjob"
)

var (
	msvcPattern     = regexp.MustCompile(`: warning C\d+:`)
	clangGCCPattern = regexp.MustCompile(`: warning:`)
)

// Scan returns the subset of messages recognized as warnings for the
// given compiler family, in their original order. A family with no
// known pattern (CompilerOther) yields no warnings.
func Scan(family buildjob.CompilerFamily, messages []string) []string {
	var pattern *regexp.Regexp
	switch family {
	case buildjob.CompilerMSVC:
		pattern = msvcPattern
	case buildjob.CompilerClang, buildjob.CompilerGCC:
		pattern = clangGCCPattern
	default:
		return nil
	}

	var out []string
	for _, m := range messages {
		if pattern.MatchString(m) {
			out = append(out, m)
		}
	}
	return out
}
