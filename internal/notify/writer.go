// Package notify carries memory mutation events between mnemo processes
// through filesystem event files, so a sibling process can drop its
// cached retrievals for the affected owner.
//
// Delivery is broadcast: event files stay on disk until they age out, so
// every watching process reads every event. Each event carries the
// origin of the process that wrote it, and watchers skip their own
// origin, which keeps a process from re-consuming its own writes.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxEventAge is how long an event file stays on disk before the writer
// sweeps it. It bounds directory growth while leaving slow siblings
// ample time to read.
const maxEventAge = time.Minute

// Event is the payload written to an event file.
type Event struct {
	Type    string `json:"type"`
	Owner   string `json:"owner"`
	EntryID string `json:"entry_id,omitempty"`
	Origin  string `json:"origin"`
	Time    int64  `json:"time"`
}

// DefaultOrigin identifies the current process for event attribution.
// A process passes the same origin to its writer and its watcher.
func DefaultOrigin() string {
	return fmt.Sprintf("pid-%d", os.Getpid())
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir    string
	origin string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/
// stamped with origin.
func NewEventWriter(dataPath, origin string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events"), origin: origin}
}

// Notify writes an event file for a mutation in owner's partition and
// sweeps event files older than maxEventAge.
// Safe to call concurrently. Errors are returned but not fatal.
func (w *EventWriter) Notify(eventType, owner, entryID string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	w.sweepExpired()

	evt := Event{
		Type:    eventType,
		Owner:   owner,
		EntryID: entryID,
		Origin:  w.origin,
		Time:    time.Now().UnixNano(),
	}
	data, _ := json.Marshal(evt)
	filename := fmt.Sprintf("%d-%s-%s.event", evt.Time, sanitizeName(w.origin), sanitizeName(owner))
	path := filepath.Join(w.dir, filename)
	return os.WriteFile(path, data, 0o600)
}

// sweepExpired removes event files past maxEventAge. Files are never
// removed on read; every watching sibling gets its chance first.
func (w *EventWriter) sweepExpired() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxEventAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".event") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// sanitizeName replaces characters unsafe for filenames.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '/', ':', '\\', '.':
			out[i] = '_'
		default:
			out[i] = name[i]
		}
	}
	return string(out)
}
