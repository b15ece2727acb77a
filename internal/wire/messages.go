package wire

import (
	"encoding/binary"
	"fmt"
)

// Message is implemented by every one of the 15 wire message types
// (spec.md §4.A taxonomy table). HasPayload is a per-variant constant per
// Design Note §9; dispatch is exhaustive type-switch rather than virtual
// send/downcast.
type Message interface {
	Tag() Tag
	HasPayload() bool
	fieldBytes() []byte
}

const hostNameLen = 64

// MsgConnection is the initial handshake (tag 1): protocol version,
// advertised job count, platform tag, host name.
type MsgConnection struct {
	ProtocolVersion  uint32
	NumJobsAvailable uint32
	Platform         Platform
	HostName         string // truncated/padded to hostNameLen bytes on the wire
}

func (MsgConnection) Tag() Tag { return TagConnection }
func (MsgConnection) HasPayload() bool { return false }
func (m MsgConnection) fieldBytes() []byte {
	buf := make([]byte, 4+4+1+3+hostNameLen)
	binary.NativeEndian.PutUint32(buf[0:4], m.ProtocolVersion)
	binary.NativeEndian.PutUint32(buf[4:8], m.NumJobsAvailable)
	buf[8] = byte(m.Platform)
	copy(buf[12:12+hostNameLen], m.HostName)
	return buf
}

// MsgStatus announces a change in advertised job availability (tag 2).
type MsgStatus struct {
	NumJobsAvailable uint32
}

func (MsgStatus) Tag() Tag { return TagStatus }
func (MsgStatus) HasPayload() bool { return false }
func (m MsgStatus) fieldBytes() []byte {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, m.NumJobsAvailable)
	return buf
}

// MsgRequestJob asks the client for a job to run (tag 3).
type MsgRequestJob struct{}

func (MsgRequestJob) Tag() Tag { return TagRequestJob }
func (MsgRequestJob) HasPayload() bool { return false }
func (MsgRequestJob) fieldBytes() []byte { return nil }

// MsgNoJobAvailable is the negative reply to MsgRequestJob (tag 4).
type MsgNoJobAvailable struct{}

func (MsgNoJobAvailable) Tag() Tag { return TagNoJobAvailable }
func (MsgNoJobAvailable) HasPayload() bool { return false }
func (MsgNoJobAvailable) fieldBytes() []byte { return nil }

// MsgJob is the positive reply to MsgRequestJob; the serialized job
// follows as payload (tag 5).
type MsgJob struct {
	ToolID uint64
}

func (MsgJob) Tag() Tag { return TagJob }
func (MsgJob) HasPayload() bool { return true }
func (m MsgJob) fieldBytes() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, m.ToolID)
	return buf
}

// MsgJobResult carries no fixed fields; the result is entirely in the
// payload (tag 6), decoded separately by JobResultPayload.
type MsgJobResult struct{}

func (MsgJobResult) Tag() Tag { return TagJobResult }
func (MsgJobResult) HasPayload() bool { return true }
func (MsgJobResult) fieldBytes() []byte { return nil }

// MsgRequestManifest asks the client for a tool's manifest (tag 7).
type MsgRequestManifest struct {
	ToolID uint64
}

func (MsgRequestManifest) Tag() Tag { return TagRequestManifest }
func (MsgRequestManifest) HasPayload() bool { return false }
func (m MsgRequestManifest) fieldBytes() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, m.ToolID)
	return buf
}

// MsgManifest is the reply to MsgRequestManifest; serialized manifest
// metadata follows as payload (tag 8).
type MsgManifest struct {
	ToolID uint64
}

func (MsgManifest) Tag() Tag { return TagManifest }
func (MsgManifest) HasPayload() bool { return true }
func (m MsgManifest) fieldBytes() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint64(buf, m.ToolID)
	return buf
}

// MsgRequestFile asks for one file of a tool's manifest (tag 9).
type MsgRequestFile struct {
	ToolID uint64
	FileID uint32
}

func (MsgRequestFile) Tag() Tag { return TagRequestFile }
func (MsgRequestFile) HasPayload() bool { return false }
func (m MsgRequestFile) fieldBytes() []byte {
	buf := make([]byte, 12)
	binary.NativeEndian.PutUint32(buf[0:4], m.FileID)
	binary.NativeEndian.PutUint64(buf[4:12], m.ToolID)
	return buf
}

// MsgFile is the reply to MsgRequestFile; file bytes follow as payload (tag 10).
type MsgFile struct {
	ToolID uint64
	FileID uint32
}

func (MsgFile) Tag() Tag { return TagFile }
func (MsgFile) HasPayload() bool { return true }
func (m MsgFile) fieldBytes() []byte {
	buf := make([]byte, 12)
	binary.NativeEndian.PutUint32(buf[0:4], m.FileID)
	binary.NativeEndian.PutUint64(buf[4:12], m.ToolID)
	return buf
}

// MsgRequestServerInfo asks a worker for its current status (tag 11).
type MsgRequestServerInfo struct {
	DetailsLevel uint8
}

func (MsgRequestServerInfo) Tag() Tag { return TagRequestServerInfo }
func (MsgRequestServerInfo) HasPayload() bool { return false }
func (m MsgRequestServerInfo) fieldBytes() []byte {
	return []byte{m.DetailsLevel, 0, 0, 0}
}

// MsgServerInfo replies to MsgRequestServerInfo with scalar worker status;
// when details were requested, a payload of per-CPU quadruples follows
// (tag 12, spec.md §4.A "ServerInfo").
type MsgServerInfo struct {
	Mode                 uint8
	NumClients           uint16
	NumCPUTotal          uint16
	NumCPUAvailable      uint16
	NumCPUBusy           uint16
	NumBlockingProcesses uint16
	CPUUsageFASTBuild    float32
	CPUUsageTotal        float32

	WithDetails bool // controls HasPayload; not itself serialized
}

func (MsgServerInfo) Tag() Tag { return TagServerInfo }
func (m MsgServerInfo) HasPayload() bool { return m.WithDetails }
func (m MsgServerInfo) fieldBytes() []byte {
	buf := make([]byte, 1+1+2*5+4*2)
	buf[0] = m.Mode
	binary.NativeEndian.PutUint16(buf[2:4], m.NumClients)
	binary.NativeEndian.PutUint16(buf[4:6], m.NumCPUTotal)
	binary.NativeEndian.PutUint16(buf[6:8], m.NumCPUAvailable)
	binary.NativeEndian.PutUint16(buf[8:10], m.NumCPUBusy)
	binary.NativeEndian.PutUint16(buf[10:12], m.NumBlockingProcesses)
	binary.NativeEndian.PutUint32(buf[12:16], float32bits(m.CPUUsageFASTBuild))
	binary.NativeEndian.PutUint32(buf[16:20], float32bits(m.CPUUsageTotal))
	return buf
}

// MsgSetMode switches a worker's mode with a grace period (tag 13).
type MsgSetMode struct {
	Mode        uint8
	GracePeriod uint16
}

func (MsgSetMode) Tag() Tag { return TagSetMode }
func (MsgSetMode) HasPayload() bool { return false }
func (m MsgSetMode) fieldBytes() []byte {
	buf := make([]byte, 4)
	buf[0] = m.Mode
	binary.NativeEndian.PutUint16(buf[2:4], m.GracePeriod)
	return buf
}

// MsgAddBlockingProcess pauses job acceptance until pid terminates (tag 14).
type MsgAddBlockingProcess struct {
	PID         uint32
	GracePeriod uint16
}

func (MsgAddBlockingProcess) Tag() Tag { return TagAddBlockingProcess }
func (MsgAddBlockingProcess) HasPayload() bool { return false }
func (m MsgAddBlockingProcess) fieldBytes() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint32(buf[0:4], m.PID)
	binary.NativeEndian.PutUint16(buf[4:6], m.GracePeriod)
	return buf
}

// MsgRemoveBlockingProcess undoes MsgAddBlockingProcess (tag 15).
type MsgRemoveBlockingProcess struct {
	PID uint32
}

func (MsgRemoveBlockingProcess) Tag() Tag { return TagRemoveBlockingProcess }
func (MsgRemoveBlockingProcess) HasPayload() bool { return false }
func (m MsgRemoveBlockingProcess) fieldBytes() []byte {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, m.PID)
	return buf
}

// decodeFields builds the concrete Message for a header + its fixed-layout
// field bytes (not including any separately-framed payload).
func decodeFields(h Header, b []byte) (Message, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("wire: short fields for %s, got %d want %d", h.Type, len(b), n)
		}
		return nil
	}
	switch h.Type {
	case TagConnection:
		if err := need(12 + hostNameLen); err != nil {
			return nil, err
		}
		return MsgConnection{
			ProtocolVersion:  binary.NativeEndian.Uint32(b[0:4]),
			NumJobsAvailable: binary.NativeEndian.Uint32(b[4:8]),
			Platform:         Platform(b[8]),
			HostName:         trimZero(b[12 : 12+hostNameLen]),
		}, nil
	case TagStatus:
		if err := need(4); err != nil {
			return nil, err
		}
		return MsgStatus{NumJobsAvailable: binary.NativeEndian.Uint32(b)}, nil
	case TagRequestJob:
		return MsgRequestJob{}, nil
	case TagNoJobAvailable:
		return MsgNoJobAvailable{}, nil
	case TagJob:
		if err := need(8); err != nil {
			return nil, err
		}
		return MsgJob{ToolID: binary.NativeEndian.Uint64(b)}, nil
	case TagJobResult:
		return MsgJobResult{}, nil
	case TagRequestManifest:
		if err := need(8); err != nil {
			return nil, err
		}
		return MsgRequestManifest{ToolID: binary.NativeEndian.Uint64(b)}, nil
	case TagManifest:
		if err := need(8); err != nil {
			return nil, err
		}
		return MsgManifest{ToolID: binary.NativeEndian.Uint64(b)}, nil
	case TagRequestFile:
		if err := need(12); err != nil {
			return nil, err
		}
		return MsgRequestFile{
			FileID: binary.NativeEndian.Uint32(b[0:4]),
			ToolID: binary.NativeEndian.Uint64(b[4:12]),
		}, nil
	case TagFile:
		if err := need(12); err != nil {
			return nil, err
		}
		return MsgFile{
			FileID: binary.NativeEndian.Uint32(b[0:4]),
			ToolID: binary.NativeEndian.Uint64(b[4:12]),
		}, nil
	case TagRequestServerInfo:
		if err := need(1); err != nil {
			return nil, err
		}
		return MsgRequestServerInfo{DetailsLevel: b[0]}, nil
	case TagServerInfo:
		if err := need(20); err != nil {
			return nil, err
		}
		return MsgServerInfo{
			Mode:                 b[0],
			NumClients:           binary.NativeEndian.Uint16(b[2:4]),
			NumCPUTotal:          binary.NativeEndian.Uint16(b[4:6]),
			NumCPUAvailable:      binary.NativeEndian.Uint16(b[6:8]),
			NumCPUBusy:           binary.NativeEndian.Uint16(b[8:10]),
			NumBlockingProcesses: binary.NativeEndian.Uint16(b[10:12]),
			CPUUsageFASTBuild:    float32frombits(binary.NativeEndian.Uint32(b[12:16])),
			CPUUsageTotal:        float32frombits(binary.NativeEndian.Uint32(b[16:20])),
			WithDetails:          h.HasPayload,
		}, nil
	case TagSetMode:
		if err := need(4); err != nil {
			return nil, err
		}
		return MsgSetMode{Mode: b[0], GracePeriod: binary.NativeEndian.Uint16(b[2:4])}, nil
	case TagAddBlockingProcess:
		if err := need(6); err != nil {
			return nil, err
		}
		return MsgAddBlockingProcess{
			PID:         binary.NativeEndian.Uint32(b[0:4]),
			GracePeriod: binary.NativeEndian.Uint16(b[4:6]),
		}, nil
	case TagRemoveBlockingProcess:
		if err := need(4); err != nil {
			return nil, err
		}
		return MsgRemoveBlockingProcess{PID: binary.NativeEndian.Uint32(b)}, nil
	default:
		return nil, fmt.Errorf("wire: unknown message tag %d", uint32(h.Type))
	}
}

func trimZero(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
