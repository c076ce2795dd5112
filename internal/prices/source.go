package prices

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/etftrend/internal/cache"
)

// Source loads a complete price table before a simulation starts.
type Source interface {
	Load(ctx context.Context) (*Table, error)
}

// CSVSource reads a table from a local CSV file.
type CSVSource struct {
	Path string
}

// Load implements Source.
func (s CSVSource) Load(_ context.Context) (*Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open price file: %w", err)
	}
	defer f.Close()

	t, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Path, err)
	}
	return t, nil
}

// CacheKey identifies the file's current contents: absolute path, size and
// modification time. Editing the file yields a new key.
func (s CSVSource) CacheKey() (string, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return "", fmt.Errorf("stat price file: %w", err)
	}
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		return "", fmt.Errorf("resolve price file: %w", err)
	}
	return fmt.Sprintf("%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano()), nil
}

// CachedSource serves a table from a cache and falls through to Inner on a
// miss. Cache failures are logged and never fail the load.
type CachedSource struct {
	Inner  Source
	Cache  cache.Cache
	Key    string
	TTL    time.Duration
	Logger zerolog.Logger
}

// Load implements Source.
func (s CachedSource) Load(ctx context.Context) (*Table, error) {
	b, ok, err := s.Cache.Get(ctx, s.Key)
	switch {
	case err != nil:
		s.Logger.Warn().Err(err).Str("key", s.Key).Msg("price cache read failed")
	case ok:
		t, err := LoadCSV(bytes.NewReader(b))
		if err == nil {
			s.Logger.Debug().Str("key", s.Key).Int("rows", t.Len()).Msg("price cache hit")
			return t, nil
		}
		s.Logger.Warn().Err(err).Str("key", s.Key).Msg("discarding corrupt cache entry")
	}

	t, err := s.Inner.Load(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		s.Logger.Warn().Err(err).Msg("encode price table for cache")
		return t, nil
	}
	if err := s.Cache.Set(ctx, s.Key, buf.Bytes(), s.TTL); err != nil {
		s.Logger.Warn().Err(err).Str("key", s.Key).Msg("price cache write failed")
	}
	return t, nil
}
