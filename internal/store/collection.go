package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docfetcher/internal/crawler"
)

const (
	logSuffix      = ".tmp"
	snapshotMIME   = "application/x-ndjson"
	maxLineBytes   = 64 << 20
	dirPermissions = 0o750
	filePerms      = 0o600
)

// Config describes one collection on disk.
type Config struct {
	// Dir is the output directory; it is created on demand.
	Dir string
	// Name is the snapshot file name, e.g. "links.jsonl".
	Name string
	// Mirror optionally receives a copy of every snapshot written.
	Mirror crawler.BlobStore
	// MirrorPrefix is prepended to the mirrored object path.
	MirrorPrefix string
}

// Collection is a JSONL-backed record set keyed by crawler.Keyed.Key.
// It is safe for concurrent use by multiple goroutines.
type Collection[T crawler.Keyed] struct {
	cfg    Config
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a collection. The directory is not touched until the first write.
func New[T crawler.Keyed](cfg Config, logger *zap.Logger) (*Collection[T], error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection[T]{cfg: cfg, logger: logger}, nil
}

// Name returns the snapshot file name.
func (c *Collection[T]) Name() string { return c.cfg.Name }

// SnapshotPath returns the canonical snapshot location.
func (c *Collection[T]) SnapshotPath() string {
	return filepath.Join(c.cfg.Dir, c.cfg.Name)
}

// LogPath returns the incremental log location.
func (c *Collection[T]) LogPath() string {
	return c.SnapshotPath() + logSuffix
}

// Load returns the deduplicated snapshot, or nothing when it does not exist yet.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context canceled: %w", err)
	}
	records, err := readJSONL[T](c.SnapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	deduped, removed := Dedupe(records)
	if removed > 0 {
		c.logger.Warn("snapshot contained duplicates",
			zap.String("path", c.SnapshotPath()),
			zap.Int("removed", removed),
		)
	}
	return deduped, nil
}

// Append writes one record to the incremental log with a single write on an
// O_APPEND descriptor, so a crash after Append returns cannot lose the record.
// Records are written even after cancellation.
func (c *Collection[T]) Append(_ context.Context, record T) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Key(), err)
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.cfg.Dir, dirPermissions); err != nil {
		return fmt.Errorf("create output dir %s: %w", c.cfg.Dir, err)
	}
	f, err := os.OpenFile(c.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerms)
	if err != nil {
		return fmt.Errorf("open log %s: %w", c.LogPath(), err)
	}
	if _, err := f.Write(line); err != nil {
		closeErr := f.Close()
		if closeErr != nil {
			return fmt.Errorf("append record: %w (close log: %v)", err, closeErr)
		}
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	return nil
}

// MergeAndSnapshot concatenates existing and fresh records, keeps the first
// record per key, and replaces the snapshot file with the result.
// It returns the merged set and the number of duplicates dropped.
func (c *Collection[T]) MergeAndSnapshot(ctx context.Context, existing, fresh []T) ([]T, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("context canceled: %w", err)
	}
	combined := make([]T, 0, len(existing)+len(fresh))
	combined = append(combined, existing...)
	combined = append(combined, fresh...)
	merged, removed := Dedupe(combined)

	payload, err := encodeJSONL(merged)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFileReplace(c.cfg.Dir, c.SnapshotPath(), payload); err != nil {
		return nil, 0, err
	}
	c.logger.Info("snapshot written",
		zap.String("path", c.SnapshotPath()),
		zap.Int("records", len(merged)),
		zap.Int("duplicates_removed", removed),
		zap.Int("input_records", len(combined)),
	)
	c.mirror(ctx, payload)
	return merged, removed, nil
}

func (c *Collection[T]) mirror(ctx context.Context, payload []byte) {
	if c.cfg.Mirror == nil {
		return
	}
	objectPath := c.cfg.Name
	if prefix := strings.Trim(c.cfg.MirrorPrefix, "/"); prefix != "" {
		objectPath = prefix + "/" + c.cfg.Name
	}
	uri, err := c.cfg.Mirror.PutObject(ctx, objectPath, snapshotMIME, bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("snapshot mirror failed", zap.String("path", objectPath), zap.Error(err))
		return
	}
	c.logger.Info("snapshot mirrored", zap.String("uri", uri))
}

// Dedupe keeps the first record seen for every key and reports how many were dropped.
func Dedupe[T crawler.Keyed](records []T) ([]T, int) {
	seen := make(map[string]struct{}, len(records))
	out := make([]T, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// Keys returns the set of keys present in records.
func Keys[T crawler.Keyed](records []T) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for _, r := range records {
		keys[r.Key()] = struct{}{}
	}
	return keys
}

func readJSONL[T any](path string) ([]T, error) {
	// #nosec G304 -- path is built from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var out []T
	reader := bufio.NewReaderSize(f, 64<<10)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("%s:%d: line exceeds %d bytes", path, lineNo+1, maxLineBytes)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			lineNo++
			var record T
			if decodeErr := json.Unmarshal(trimmed, &record); decodeErr != nil {
				return nil, fmt.Errorf("%s:%d: decode record: %w", path, lineNo, decodeErr)
			}
			out = append(out, record)
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
}

func encodeJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// writeFileReplace replaces target as a whole: readers see the old or the new
// file, never a prefix of the new one.
func writeFileReplace(dir, target string, payload []byte) error {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, filePerms); err != nil {
		cleanup()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot %s: %w", target, err)
	}
	return nil
}
