// Package workersettings implements the persisted worker-settings file
// (spec.md §6): a 3-byte magic "FWS" + 1-byte version, followed by fields
// that grew across versions 1 through 4. Grounded directly on
// original_source's WorkerSettings::Load/Save (a versioned binary file at
// "<executable>.settings"); the teacher has no equivalent persisted
// per-host settings file, so the wire shape here follows original_source,
// not the teacher, while keeping the teacher's encoding/binary + stdlib
// file-I/O style used throughout internal/wire.
package workersettings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	magic = "FWS"

	// MinVersion and CurrentVersion mirror
	// FBUILDWORKER_SETTINGS_MIN_VERSION/_CURRENT_VERSION.
	MinVersion     = 1
	CurrentVersion = 4
)

// Mode mirrors WorkerSettings::Mode (also internal/control.Mode's wire
// value, kept as a distinct type here since this package doesn't depend
// on internal/control).
type Mode uint32

const (
	ModeDisabled Mode = iota
	ModeWhenIdle
	ModeDedicated
	ModeProportional
)

// Settings is the worker-settings file's decoded contents. GracePeriod,
// BlockingProcessNames, and BlockingGracePeriod are version-4 additions;
// a version-1..3 file leaves them at their zero value.
type Settings struct {
	Mode                 Mode
	NumCPUsToUse         uint32
	StartMinimized       bool
	GracePeriod          uint32
	BlockingProcessNames []string
	BlockingGracePeriod  uint32
}

// Defaults mirrors WorkerSettings's constructor defaults (applied before
// Load overrides them, and used by callers when Load reports
// ErrUnknownVersion).
func Defaults(numCPUs int) Settings {
	cpusToUse := numCPUs / 2
	if cpusToUse < 1 {
		cpusToUse = 1
	}
	return Settings{
		Mode:                ModeWhenIdle,
		NumCPUsToUse:        uint32(cpusToUse),
		BlockingGracePeriod: 30,
	}
}

// ErrUnknownVersion is returned for a missing file, a bad magic, or a
// version outside [MinVersion, CurrentVersion] — spec.md §6: "Older
// versions refuse to open with no error; newer versions refuse silently.
// Out-of-range versions are treated as absent." Callers apply Defaults.
var ErrUnknownVersion = errors.New("workersettings: missing, unrecognized, or unsupported version")

// Load reads and decodes the settings file at path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, ErrUnknownVersion
	}
	if err != nil {
		return Settings{}, fmt.Errorf("workersettings: read %s: %w", path, err)
	}
	return Unmarshal(data)
}

// Save encodes s at CurrentVersion and writes it to path.
func Save(path string, s Settings) error {
	if err := os.WriteFile(path, Marshal(s), 0o644); err != nil {
		return fmt.Errorf("workersettings: write %s: %w", path, err)
	}
	return nil
}

// Marshal encodes s as a CurrentVersion settings file.
func Marshal(s Settings) []byte {
	buf := make([]byte, 0, 4+4+4+1+4+4+4)
	buf = append(buf, magic...)
	buf = append(buf, byte(CurrentVersion))

	var scratch [4]byte
	binary.NativeEndian.PutUint32(scratch[:], uint32(s.Mode))
	buf = append(buf, scratch[:]...)
	binary.NativeEndian.PutUint32(scratch[:], s.NumCPUsToUse)
	buf = append(buf, scratch[:]...)
	if s.StartMinimized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	binary.NativeEndian.PutUint32(scratch[:], s.GracePeriod)
	buf = append(buf, scratch[:]...)
	buf = putStringList(buf, s.BlockingProcessNames)
	binary.NativeEndian.PutUint32(scratch[:], s.BlockingGracePeriod)
	buf = append(buf, scratch[:]...)
	return buf
}

// Unmarshal decodes a settings file previously produced by Marshal (or by
// original_source's WorkerSettings::Save at a version in [1,4]).
func Unmarshal(data []byte) (Settings, error) {
	if len(data) < 4 || string(data[:3]) != magic {
		return Settings{}, ErrUnknownVersion
	}
	version := data[3]
	if version < MinVersion || version > CurrentVersion {
		return Settings{}, ErrUnknownVersion
	}
	b := data[4:]

	if len(b) < 9 {
		return Settings{}, fmt.Errorf("workersettings: truncated v1 fields")
	}
	var s Settings
	s.Mode = Mode(binary.NativeEndian.Uint32(b[0:4]))
	s.NumCPUsToUse = binary.NativeEndian.Uint32(b[4:8])
	s.StartMinimized = b[8] != 0
	b = b[9:]

	if version >= 4 {
		if len(b) < 4 {
			return Settings{}, fmt.Errorf("workersettings: truncated grace period")
		}
		s.GracePeriod = binary.NativeEndian.Uint32(b[0:4])
		b = b[4:]

		var err error
		s.BlockingProcessNames, b, err = getStringList(b)
		if err != nil {
			return Settings{}, err
		}

		if len(b) < 4 {
			return Settings{}, fmt.Errorf("workersettings: truncated blocking grace period")
		}
		s.BlockingGracePeriod = binary.NativeEndian.Uint32(b[0:4])
	}
	return s, nil
}

func putStringList(buf []byte, list []string) []byte {
	var countBuf [4]byte
	binary.NativeEndian.PutUint32(countBuf[:], uint32(len(list)))
	buf = append(buf, countBuf[:]...)
	for _, s := range list {
		var lenBuf [4]byte
		binary.NativeEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, s...)
	}
	return buf
}

func getStringList(b []byte) ([]string, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("workersettings: truncated string list count")
	}
	count := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	var list []string
	for i := uint32(0); i < count; i++ {
		if len(b) < 4 {
			return nil, nil, fmt.Errorf("workersettings: truncated string length")
		}
		n := binary.NativeEndian.Uint32(b[:4])
		b = b[4:]
		if uint64(len(b)) < uint64(n) {
			return nil, nil, fmt.Errorf("workersettings: truncated string body")
		}
		list = append(list, string(b[:n]))
		b = b[n:]
	}
	return list, b, nil
}
