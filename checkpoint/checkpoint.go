// Package checkpoint implements crawl checkpoint and resume: a serialized
// snapshot of a crawl's projects, routes, templates and pending queue
// state, written atomically (temp file then rename) so a crash mid-write
// never corrupts the last good checkpoint. The write-temp-then-rename
// idiom is the same one Go's stdlib `os` package documents for crash-safe
// writes and is used throughout Go infrastructure tooling.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codepr/docscraper/model"
	"github.com/codepr/docscraper/queue"
)

const (
	// FileName is the main checkpoint blob's name under the crawl's output
	// directory.
	FileName = ".scraper_checkpoint.json"
	// QueueStateFileName is the companion queue snapshot the main
	// checkpoint references by path.
	QueueStateFileName = ".queue_state.json"
)

// Blob is the serialized form of a crawl's resumable state: projects,
// routes, the static cache, templates, and a reference to the companion
// queue-state file carrying pending items.
type Blob struct {
	Projects       []string                    `json:"projects"`
	Seeds          map[string]string           `json:"seeds"`
	Routes         map[string]model.RouteModel `json:"routes"`
	StaticCache    map[string]string           `json:"static_cache"`
	Templates      map[model.DocKind]string    `json:"templates"`
	QueueStateFile string                      `json:"queue_state_file"`
}

// Save writes blob and the queue snapshot atomically: both are written to
// temp files in outDir and renamed into place only once fully flushed, so
// a reader never observes a half-written checkpoint.
func Save(outDir string, blob Blob, snap queue.Snapshot) error {
	blob.QueueStateFile = QueueStateFileName

	if err := writeAtomic(filepath.Join(outDir, QueueStateFileName), snap); err != nil {
		return fmt.Errorf("checkpoint: writing queue state: %w", err)
	}
	if err := writeAtomic(filepath.Join(outDir, FileName), blob); err != nil {
		return fmt.Errorf("checkpoint: writing blob: %w", err)
	}
	return nil
}

// writeAtomic marshals v as indented JSON to a temp file beside path, then
// renames it into place so a reader never observes a half-written file.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a checkpoint blob and its companion queue state from outDir.
// It returns os.ErrNotExist (wrapped) if no checkpoint is present, which
// callers treat as "fresh start".
func Load(outDir string) (Blob, queue.Snapshot, error) {
	var blob Blob
	var snap queue.Snapshot

	data, err := os.ReadFile(filepath.Join(outDir, FileName))
	if err != nil {
		return blob, snap, err
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		return blob, snap, fmt.Errorf("checkpoint: decoding blob: %w", err)
	}

	queueFile := blob.QueueStateFile
	if queueFile == "" {
		queueFile = QueueStateFileName
	}
	qdata, err := os.ReadFile(filepath.Join(outDir, queueFile))
	if err != nil {
		return blob, snap, fmt.Errorf("checkpoint: reading queue state: %w", err)
	}
	if err := json.Unmarshal(qdata, &snap); err != nil {
		return blob, snap, fmt.Errorf("checkpoint: decoding queue state: %w", err)
	}
	return blob, snap, nil
}

// Exists reports whether a checkpoint is present in outDir.
func Exists(outDir string) bool {
	_, err := os.Stat(filepath.Join(outDir, FileName))
	return err == nil
}

// Delete removes the checkpoint and its companion queue-state file. Called
// on clean completion.
func Delete(outDir string) error {
	err1 := os.Remove(filepath.Join(outDir, FileName))
	err2 := os.Remove(filepath.Join(outDir, QueueStateFileName))
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}
