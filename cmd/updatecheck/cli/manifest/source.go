package manifest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
)

// Source serves a manifest file, reloading it when the file changes. It is a
// versioncheck.Fetcher, so a checker can run fully offline from it.
type Source struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	current *Manifest
	modTime time.Time
	size    int64
}

// NewSource returns a Source for the manifest at path. The file is read on
// first use.
func NewSource(path string) *Source {
	return &Source{path: path, now: time.Now}
}

// Path returns the manifest path.
func (s *Source) Path() string {
	return s.path
}

// Manifest returns the current manifest, re-reading the file if its size or
// modification time changed. A load failure is returned and retried on the
// next call.
func (s *Source) Manifest() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if s.current != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.current, nil
	}

	m, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.current = m
	s.modTime = info.ModTime()
	s.size = info.Size()
	return m, nil
}

// Fetch evaluates req against the manifest. A missing or invalid manifest is
// a fetch failure.
func (s *Source) Fetch(ctx context.Context, req versioncheck.Request) (versioncheck.Result, error) {
	if err := ctx.Err(); err != nil {
		return versioncheck.Result{}, err
	}
	m, err := s.Manifest()
	if err != nil {
		return versioncheck.Result{}, err
	}
	return m.Evaluate(req, s.now()), nil
}

// Static returns a fetcher over an in-memory manifest.
func Static(m *Manifest) versioncheck.Fetcher {
	return versioncheck.FetcherFunc(func(ctx context.Context, req versioncheck.Request) (versioncheck.Result, error) {
		if err := ctx.Err(); err != nil {
			return versioncheck.Result{}, err
		}
		return m.Evaluate(req, time.Now()), nil
	})
}
