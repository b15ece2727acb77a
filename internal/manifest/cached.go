package manifest

import "github.com/InSimo/fastbuild/internal/cache"

type fileKey struct {
	toolID uint64
	fileID uint32
}

// CachedProvider wraps a Provider with a size-bounded in-memory cache of
// file bytes, so repeated RequestFile traffic for a popular tool doesn't
// re-read disk each time (spec.md §4.E dispatch path).
type CachedProvider struct {
	inner Provider
	files *cache.LRUSizeCache[fileKey, []byte]
}

// NewCachedProvider wraps inner with a file-content cache bounded to
// sizeBoundBytes total.
func NewCachedProvider(inner Provider, sizeBoundBytes uint64) *CachedProvider {
	p := &CachedProvider{inner: inner}
	p.files = cache.New[fileKey, []byte](sizeBoundBytes, p.load, nil)
	return p
}

func (p *CachedProvider) load(key fileKey) (*[]byte, error, uint64) {
	data, err := p.inner.File(key.toolID, key.fileID)
	if err != nil {
		return nil, err, 0
	}
	return &data, nil, uint64(len(data))
}

// Manifest delegates directly; manifest metadata isn't cached, only
// file content.
func (p *CachedProvider) Manifest(toolID uint64) (Manifest, error) {
	return p.inner.Manifest(toolID)
}

// File returns cached bytes, loading and caching them on first request.
func (p *CachedProvider) File(toolID uint64, fileID uint32) ([]byte, error) {
	data, err := p.files.Get(fileKey{toolID: toolID, fileID: fileID})
	if err != nil {
		return nil, err
	}
	return *data, nil
}

var _ Provider = (*CachedProvider)(nil)
