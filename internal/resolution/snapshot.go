package resolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// snapshotFileName is the snapshot artifact inside the storage directory.
const snapshotFileName = "resolutions.json"

// snapshotVersion is the current on-disk format version.
const snapshotVersion = 1

// snapshotFile is the persisted layout: the whole record set in one
// artifact, reloadable in full at startup. Whole-snapshot writes trade
// write amplification for simplicity, which is fine for a
// developer-facing diagnostic store.
type snapshotFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Records []*Record `json:"records"`
}

// Snapshotter loads and saves the full record set under a storage
// directory. It owns only the file format; retention decisions stay with
// the store and service.
type Snapshotter struct {
	dir    string
	path   string
	logger *zap.Logger
}

// NewSnapshotter creates a snapshotter rooted at dir. The directory is
// created on first save, not here, so construction never touches disk.
func NewSnapshotter(dir string, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		dir:    dir,
		path:   filepath.Join(dir, snapshotFileName),
		logger: logger,
	}
}

// Path returns the snapshot file path.
func (sn *Snapshotter) Path() string {
	return sn.path
}

// Load reads the snapshot from disk. A missing file is a normal first
// run and yields an empty record set. A file that cannot be decoded
// returns ErrCorruptSnapshot; the caller logs it and starts empty rather
// than crashing.
func (sn *Snapshotter) Load() ([]*Record, error) {
	data, err := os.ReadFile(sn.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	records := make([]*Record, 0, len(file.Records))
	for _, rec := range file.Records {
		if rec == nil || rec.Signature == "" {
			sn.logger.Warn("skipping snapshot record without signature")
			continue
		}
		records = append(records, rec)
	}

	sn.logger.Info("loaded resolution snapshot",
		zap.String("path", sn.path),
		zap.Int("version", file.Version),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// Save writes the record set as a single atomic snapshot: marshal,
// write to a temp file, then rename over the previous snapshot. A crash
// mid-write leaves the old snapshot intact.
func (sn *Snapshotter) Save(records []*Record) error {
	if err := os.MkdirAll(sn.dir, 0700); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	file := snapshotFile{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Records: records,
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmpPath := sn.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, sn.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming snapshot: %w", err)
	}

	return nil
}
