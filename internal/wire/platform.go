package wire

import (
	"math"
	"runtime"
)

// Platform is the MsgConnection platform tag (spec.md §4.A: "platform
// tag"; the exact enumeration is left unspecified by spec.md, so we fill
// it in per Design Note supplements using the three platforms
// original_source actually targets).
type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformWindows
	PlatformLinux
	PlatformMacOS
)

// CurrentPlatform maps runtime.GOOS to the wire Platform tag.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	default:
		return PlatformUnknown
	}
}

func float32bits(f float32) uint32 { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
