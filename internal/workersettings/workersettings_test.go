package workersettings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsHalvesCPUCountWithFloorOfOne(t *testing.T) {
	require.EqualValues(t, 4, Defaults(8).NumCPUsToUse)
	require.EqualValues(t, 1, Defaults(1).NumCPUsToUse)
	require.EqualValues(t, 1, Defaults(0).NumCPUsToUse)
	require.Equal(t, ModeWhenIdle, Defaults(8).Mode)
	require.EqualValues(t, 30, Defaults(8).BlockingGracePeriod)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	s := Settings{
		Mode:                 ModeDedicated,
		NumCPUsToUse:         6,
		StartMinimized:       true,
		GracePeriod:          15,
		BlockingProcessNames: []string{"devenv.exe", "chrome.exe"},
		BlockingGracePeriod:  45,
	}
	got, err := Unmarshal(Marshal(s))
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.settings")
	s := Settings{Mode: ModeProportional, NumCPUsToUse: 2, BlockingGracePeriod: 30}
	require.NoError(t, Save(path, s))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestLoadMissingFileReportsUnknownVersion(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.settings"))
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte("XXX\x04\x00\x00\x00\x00"))
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestUnmarshalRejectsVersionBelowMin(t *testing.T) {
	data := []byte(magic)
	data = append(data, 0) // version 0, below MinVersion
	_, err := Unmarshal(data)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestUnmarshalRejectsVersionAboveCurrent(t *testing.T) {
	data := []byte(magic)
	data = append(data, byte(CurrentVersion+1))
	_, err := Unmarshal(data)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

// A version-1 file carries only Mode/NumCPUsToUse/StartMinimized; the
// v4 fields must come back at their zero value, matching
// original_source's Load() behavior when header[3] < 4.
func TestUnmarshalVersion1FileLeavesV4FieldsZero(t *testing.T) {
	full := Marshal(Settings{
		Mode:                ModeDedicated,
		NumCPUsToUse:        3,
		StartMinimized:      true,
		GracePeriod:         99,
		BlockingGracePeriod: 99,
	})
	full[3] = 1 // downgrade the version byte, truncate to the v1 prefix
	v1 := full[:4+4+4+1]

	got, err := Unmarshal(v1)
	require.NoError(t, err)
	require.Equal(t, ModeDedicated, got.Mode)
	require.EqualValues(t, 3, got.NumCPUsToUse)
	require.True(t, got.StartMinimized)
	require.Zero(t, got.GracePeriod)
	require.Empty(t, got.BlockingProcessNames)
	require.Zero(t, got.BlockingGracePeriod)
}

func TestMarshalAlwaysWritesCurrentVersion(t *testing.T) {
	data := Marshal(Settings{})
	require.Equal(t, magic, string(data[:3]))
	require.EqualValues(t, CurrentVersion, data[3])
}
