package wire

import (
	"encoding/binary"
	"fmt"
)

// JobResultPayload is the MsgJobResult payload body (spec.md §4.A/§4.E:
// "job_id, name, success flag, system-error flag, messages, build-time,
// then a multi-buffer of output files"). It is encoded independently of
// the fixed-header framing since its shape (strings, a variable number of
// messages, a variable number of output buffers) isn't a fixed struct.
type JobResultPayload struct {
	JobID        uint64
	NodeName     string
	Success      bool
	SystemError  bool
	Messages     []string
	BuildTimeMS  uint64
	OutputFiles  [][]byte // primary object file, then optional PDB, then optional static-analysis XML
}

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.NativeEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func getString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("wire: truncated string length")
	}
	n := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return "", nil, fmt.Errorf("wire: truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

func putBytes(buf []byte, p []byte) []byte {
	var lenBuf [4]byte
	binary.NativeEndian.PutUint32(lenBuf[:], uint32(len(p)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, p...)
	return buf
}

func getBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("wire: truncated bytes length")
	}
	n := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, fmt.Errorf("wire: truncated bytes body")
	}
	return b[:n], b[n:], nil
}

// Marshal encodes the payload as an opaque byte blob suitable for
// WriteFrame's payload argument.
func (p JobResultPayload) Marshal() []byte {
	buf := make([]byte, 0, 128)
	var scratch [8]byte
	binary.NativeEndian.PutUint64(scratch[:], p.JobID)
	buf = append(buf, scratch[:]...)

	buf = putString(buf, p.NodeName)

	flags := byte(0)
	if p.Success {
		flags |= 1
	}
	if p.SystemError {
		flags |= 2
	}
	buf = append(buf, flags)

	var countBuf [4]byte
	binary.NativeEndian.PutUint32(countBuf[:], uint32(len(p.Messages)))
	buf = append(buf, countBuf[:]...)
	for _, m := range p.Messages {
		buf = putString(buf, m)
	}

	binary.NativeEndian.PutUint64(scratch[:], p.BuildTimeMS)
	buf = append(buf, scratch[:]...)

	binary.NativeEndian.PutUint32(countBuf[:], uint32(len(p.OutputFiles)))
	buf = append(buf, countBuf[:]...)
	for _, f := range p.OutputFiles {
		buf = putBytes(buf, f)
	}
	return buf
}

// ServerInfoDetail is one CPU's entry in a MsgServerInfo payload sent when
// details were requested (spec.md §4.A: "a payload of num_cpus quadruples
// (idle: bool, busy: bool, host_name: string, job_status: string)").
type ServerInfoDetail struct {
	Idle      bool
	Busy      bool
	HostName  string
	JobStatus string
}

// MarshalServerInfoDetails encodes the per-CPU detail payload.
func MarshalServerInfoDetails(details []ServerInfoDetail) []byte {
	buf := make([]byte, 0, 32*len(details)+4)
	var countBuf [4]byte
	binary.NativeEndian.PutUint32(countBuf[:], uint32(len(details)))
	buf = append(buf, countBuf[:]...)
	for _, d := range details {
		flags := byte(0)
		if d.Idle {
			flags |= 1
		}
		if d.Busy {
			flags |= 2
		}
		buf = append(buf, flags)
		buf = putString(buf, d.HostName)
		buf = putString(buf, d.JobStatus)
	}
	return buf
}

// UnmarshalServerInfoDetails decodes the per-CPU detail payload previously
// produced by MarshalServerInfoDetails.
func UnmarshalServerInfoDetails(b []byte) ([]ServerInfoDetail, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("wire: truncated server info detail count")
	}
	count := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(count) > uint64(len(b)) {
		return nil, fmt.Errorf("wire: implausible server info detail count %d for %d remaining bytes", count, len(b))
	}
	details := make([]ServerInfoDetail, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 1 {
			return nil, fmt.Errorf("wire: truncated server info detail flags")
		}
		d := ServerInfoDetail{Idle: b[0]&1 != 0, Busy: b[0]&2 != 0}
		b = b[1:]
		var err error
		d.HostName, b, err = getString(b)
		if err != nil {
			return nil, err
		}
		d.JobStatus, b, err = getString(b)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

// UnmarshalJobResultPayload decodes a JobResultPayload previously produced
// by Marshal.
func UnmarshalJobResultPayload(b []byte) (JobResultPayload, error) {
	var p JobResultPayload
	if len(b) < 8 {
		return p, fmt.Errorf("wire: truncated job result payload")
	}
	p.JobID = binary.NativeEndian.Uint64(b[:8])
	b = b[8:]

	var err error
	p.NodeName, b, err = getString(b)
	if err != nil {
		return p, err
	}

	if len(b) < 1 {
		return p, fmt.Errorf("wire: truncated job result flags")
	}
	p.Success = b[0]&1 != 0
	p.SystemError = b[0]&2 != 0
	b = b[1:]

	if len(b) < 4 {
		return p, fmt.Errorf("wire: truncated message count")
	}
	msgCount := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(msgCount) > uint64(len(b))/4 {
		return p, fmt.Errorf("wire: implausible message count %d for %d remaining bytes", msgCount, len(b))
	}
	p.Messages = make([]string, 0, msgCount)
	for i := uint32(0); i < msgCount; i++ {
		var s string
		s, b, err = getString(b)
		if err != nil {
			return p, err
		}
		p.Messages = append(p.Messages, s)
	}

	if len(b) < 8 {
		return p, fmt.Errorf("wire: truncated build time")
	}
	p.BuildTimeMS = binary.NativeEndian.Uint64(b[:8])
	b = b[8:]

	if len(b) < 4 {
		return p, fmt.Errorf("wire: truncated output file count")
	}
	fileCount := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(fileCount) > uint64(len(b))/4 {
		return p, fmt.Errorf("wire: implausible output file count %d for %d remaining bytes", fileCount, len(b))
	}
	p.OutputFiles = make([][]byte, 0, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		var f []byte
		f, b, err = getBytes(b)
		if err != nil {
			return p, err
		}
		p.OutputFiles = append(p.OutputFiles, f)
	}
	return p, nil
}
