// Package snapshot implements copy-before-mutate backups with a JSON
// manifest and bounded per-file retention.
package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alphabridge/runtime/internal/corelog"
)

// Record describes one backed-up file version.
type Record struct {
	OriginalPath string    `json:"original_path"`
	SnapshotPath string    `json:"snapshot_path"`
	Timestamp    time.Time `json:"timestamp"`
	Reason       string    `json:"reason"`
	SizeBytes    int64     `json:"size_bytes"`
}

type manifest struct {
	Records []Record `json:"records"`
}

// Snapshotter owns a snapshot directory and its manifest.json.
type Snapshotter struct {
	mu        sync.Mutex
	dir       string
	retention int
	logger    corelog.Logger
}

// New creates a Snapshotter rooted at dir, keeping at most `retention`
// snapshots per original file (default 10).
func New(dir string, retention int, logger corelog.Logger) (*Snapshotter, error) {
	if retention <= 0 {
		retention = 10
	}
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot dir: %w", err)
	}
	return &Snapshotter{dir: dir, retention: retention, logger: logger}, nil
}

func (s *Snapshotter) manifestPath() string { return filepath.Join(s.dir, "manifest.json") }

func (s *Snapshotter) loadManifest() (manifest, error) {
	var m manifest
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

func (s *Snapshotter) saveManifest(m manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.manifestPath(), data, 0o644)
}

// Snapshot copies originalPath into the snapshot directory, recording the
// reason for the mutation about to happen, then prunes older snapshots of
// the same file beyond retention in FIFO order, deleting their files.
func (s *Snapshotter) Snapshot(originalPath, reason string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(originalPath)
	if err != nil {
		return Record{}, fmt.Errorf("stat original file: %w", err)
	}

	base := filepath.Base(originalPath)
	snapshotName := fmt.Sprintf("%s.%d.bak", base, time.Now().UnixNano())
	snapshotPath := filepath.Join(s.dir, snapshotName)

	if err := copyFile(originalPath, snapshotPath); err != nil {
		return Record{}, fmt.Errorf("copying snapshot: %w", err)
	}

	record := Record{
		OriginalPath: originalPath,
		SnapshotPath: snapshotPath,
		Timestamp:    time.Now().UTC(),
		Reason:       reason,
		SizeBytes:    info.Size(),
	}

	m, err := s.loadManifest()
	if err != nil {
		return Record{}, fmt.Errorf("loading manifest: %w", err)
	}
	m.Records = append(m.Records, record)
	m = pruneRetention(m, originalPath, s.retention, s.logger)

	if err := s.saveManifest(m); err != nil {
		return Record{}, fmt.Errorf("saving manifest: %w", err)
	}
	return record, nil
}

func pruneRetention(m manifest, originalPath string, retention int, logger corelog.Logger) manifest {
	var forFile []Record
	var others []Record
	for _, r := range m.Records {
		if r.OriginalPath == originalPath {
			forFile = append(forFile, r)
		} else {
			others = append(others, r)
		}
	}
	sort.Slice(forFile, func(i, j int) bool { return forFile[i].Timestamp.Before(forFile[j].Timestamp) })

	for len(forFile) > retention {
		oldest := forFile[0]
		if err := os.Remove(oldest.SnapshotPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to delete pruned snapshot file", map[string]interface{}{
				"path":  oldest.SnapshotPath,
				"error": err.Error(),
			})
		}
		forFile = forFile[1:]
	}

	m.Records = append(others, forFile...)
	return m
}

// List returns every manifest entry for originalPath, newest last.
func (s *Snapshotter) List(originalPath string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range m.Records {
		if originalPath == "" || r.OriginalPath == originalPath {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Restore copies a chosen snapshot back over its original, after first
// snapshotting the current (pre-restore) state so the restore itself is
// reversible. An empty snapshotPath restores the newest snapshot of
// originalPath.
func (s *Snapshotter) Restore(originalPath, snapshotPath string) error {
	records, err := s.List(originalPath)
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no snapshots found for %s", originalPath)
	}

	target := records[len(records)-1]
	if snapshotPath != "" {
		found := false
		for _, r := range records {
			if r.SnapshotPath == snapshotPath {
				target = r
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("snapshot %s not found for %s", snapshotPath, originalPath)
		}
	}

	// Read the target first: the pre-restore snapshot may prune it.
	data, err := os.ReadFile(target.SnapshotPath)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	if _, err := s.Snapshot(originalPath, "pre-restore"); err != nil {
		return fmt.Errorf("snapshotting pre-restore state: %w", err)
	}

	return os.WriteFile(originalPath, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
