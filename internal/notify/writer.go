// Package notify passes change notifications between memento processes
// through event files, and watches a notes directory for markdown edits.
package notify

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Event types.
const (
	EventStored  = "stored"
	EventIndexed = "indexed"
	EventRemoved = "removed"
)

// Event is the payload written to an event file.
type Event struct {
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Path      string `json:"path,omitempty"`
	Time      int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
	fs  afero.Fs
	now func() time.Time
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string, fs afero.Fs) *EventWriter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &EventWriter{dir: EventsDir(dataPath), fs: fs, now: time.Now}
}

// EventsDir is the directory event files are exchanged through.
func EventsDir(dataPath string) string {
	return filepath.Join(dataPath, "events")
}

// Notify writes an event file. Safe to call concurrently.
func (w *EventWriter) Notify(eventType, workspace, path string) error {
	if err := w.fs.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	evt := Event{
		Type:      eventType,
		Workspace: workspace,
		Path:      path,
		Time:      w.now().UnixNano(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	// Write under a temporary name and rename so watchers never read a
	// partial file.
	name := fmt.Sprintf("%d-%s", evt.Time, sanitizeID(workspace))
	tmp := filepath.Join(w.dir, name+".tmp")
	if err := afero.WriteFile(w.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	return w.fs.Rename(tmp, filepath.Join(w.dir, name+".event"))
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\', '.':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
