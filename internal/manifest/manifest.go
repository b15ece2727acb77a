// Package manifest models the opaque tool-manifest bundle a client
// advertises to workers: a 64-bit tool ID plus an ordered list of files
// a worker may request by file ID (spec.md §3's ToolManifest). The
// registry keyed by an opaque ID and backed by file content on disk is
// grounded on the teacher's invoker/compiler.Compiler (a Languages
// registry read from config); the bounded in-memory file cache is
// grounded on lib/cache.LRUSizeCache via internal/cache.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// FileEntry is one file within a manifest: its on-wire ID, source path,
// and size (spec.md §3: "ordered list of (FileID, Path, Size) entries").
type FileEntry struct {
	FileID uint32
	Path   string
	Size   uint64
}

// Manifest is one tool's manifest metadata, serialized into MsgManifest's
// payload on request.
type Manifest struct {
	ToolID uint64
	Files  []FileEntry
}

// Marshal encodes m for MsgManifest's payload: tool ID, file count, then
// each file's (FileID, Size, Path) in order.
func (m Manifest) Marshal() []byte {
	buf := make([]byte, 0, 16+32*len(m.Files))
	var scratch [8]byte
	binary.NativeEndian.PutUint64(scratch[:], m.ToolID)
	buf = append(buf, scratch[:]...)

	var countBuf [4]byte
	binary.NativeEndian.PutUint32(countBuf[:], uint32(len(m.Files)))
	buf = append(buf, countBuf[:]...)

	for _, f := range m.Files {
		binary.NativeEndian.PutUint32(countBuf[:], f.FileID)
		buf = append(buf, countBuf[:]...)
		binary.NativeEndian.PutUint64(scratch[:], f.Size)
		buf = append(buf, scratch[:]...)
		binary.NativeEndian.PutUint32(countBuf[:], uint32(len(f.Path)))
		buf = append(buf, countBuf[:]...)
		buf = append(buf, f.Path...)
	}
	return buf
}

// Unmarshal decodes a Manifest previously produced by Marshal.
func Unmarshal(b []byte) (Manifest, error) {
	var m Manifest
	if len(b) < 12 {
		return m, fmt.Errorf("manifest: truncated header")
	}
	m.ToolID = binary.NativeEndian.Uint64(b[:8])
	b = b[8:]
	count := binary.NativeEndian.Uint32(b[:4])
	b = b[4:]

	m.Files = make([]FileEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 16 {
			return m, fmt.Errorf("manifest: truncated file entry")
		}
		var f FileEntry
		f.FileID = binary.NativeEndian.Uint32(b[0:4])
		f.Size = binary.NativeEndian.Uint64(b[4:12])
		n := binary.NativeEndian.Uint32(b[12:16])
		b = b[16:]
		if uint64(len(b)) < uint64(n) {
			return m, fmt.Errorf("manifest: truncated file path")
		}
		f.Path = string(b[:n])
		b = b[n:]
		m.Files = append(m.Files, f)
	}
	return m, nil
}

// Provider is what the client-side dispatcher calls into to answer
// RequestManifest/RequestFile (spec.md §4.E).
type Provider interface {
	Manifest(toolID uint64) (Manifest, error)
	File(toolID uint64, fileID uint32) ([]byte, error)
}

// ErrToolNotFound is returned by a Provider for an unknown tool ID.
type ErrToolNotFound struct{ ToolID uint64 }

func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("manifest: unknown tool id %d", e.ToolID)
}

// ErrFileNotFound is returned by a Provider for an unknown file ID
// within an otherwise known tool.
type ErrFileNotFound struct {
	ToolID uint64
	FileID uint32
}

func (e *ErrFileNotFound) Error() string {
	return fmt.Sprintf("manifest: tool %d has no file %d", e.ToolID, e.FileID)
}

// Registry is a static, in-memory Provider over manifests registered at
// construction time (e.g. from the BFF-parsed tool list, which is
// external per spec.md §1 Non-goals).
type Registry struct {
	mu        sync.RWMutex
	manifests map[uint64]Manifest
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{manifests: make(map[uint64]Manifest)}
}

// Register adds or replaces a tool's manifest.
func (r *Registry) Register(m Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[m.ToolID] = m
}

// Manifest implements Provider.
func (r *Registry) Manifest(toolID uint64) (Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[toolID]
	if !ok {
		return Manifest{}, &ErrToolNotFound{ToolID: toolID}
	}
	return m, nil
}

// File implements Provider by reading the file directly from disk on
// every call; NewCachedProvider can wrap a Registry to serve repeated
// requests from internal/cache.
func (r *Registry) File(toolID uint64, fileID uint32) ([]byte, error) {
	r.mu.RLock()
	m, ok := r.manifests[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrToolNotFound{ToolID: toolID}
	}
	for _, f := range m.Files {
		if f.FileID == fileID {
			return os.ReadFile(f.Path)
		}
	}
	return nil, &ErrFileNotFound{ToolID: toolID, FileID: fileID}
}
