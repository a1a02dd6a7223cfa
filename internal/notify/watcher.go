package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventWatcher watches the events directory and dispatches callbacks.
// The typical callback invalidates the owner's cached retrievals.
//
// Event files are left in place so every sibling process sees them; the
// watcher tracks which files it has dispatched and skips events stamped
// with its own origin.
type EventWatcher struct {
	dir      string
	origin   string
	callback func(evt Event)
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewEventWatcher creates a watcher for {dataPath}/events/. Events whose
// origin matches the given origin are ignored; pass the same origin the
// process hands its EventWriter.
func NewEventWatcher(dataPath, origin string, callback func(evt Event)) *EventWatcher {
	return &EventWatcher{
		dir:      filepath.Join(dataPath, "events"),
		origin:   origin,
		callback: callback,
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
	}
}

// Start begins watching. It drains any existing event files first,
// then watches for new ones. Call Stop() to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	ew.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	go ew.loop()
	log.Printf("notify: watching %s for memory events", ew.dir)
	return nil
}

// Stop shuts down the watcher.
func (ew *EventWatcher) Stop() {
	if ew.watcher != nil {
		_ = ew.watcher.Close()
	}
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			// Write is included because the create notification can fire
			// before the writer finishes the file; the follow-up write
			// gives a second chance at a complete read.
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 && strings.HasSuffix(evt.Name, ".event") {
				ew.processFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
			ew.processFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

// processFile dispatches the event in path at most once. The file is
// never removed here; siblings that have not read it yet still need it,
// and the writer's sweep retires it after maxEventAge.
func (ew *EventWatcher) processFile(path string) {
	name := filepath.Base(path)
	ew.mu.Lock()
	if _, dup := ew.seen[name]; dup {
		ew.mu.Unlock()
		return
	}
	ew.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return // swept by the writer before we got to it
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		// Likely a partial read of a file still being written; a Write
		// notification will retry it.
		return
	}

	ew.mu.Lock()
	ew.seen[name] = struct{}{}
	ew.pruneSeenLocked()
	ew.mu.Unlock()

	if event.Origin == ew.origin {
		return // our own write; the engine already invalidated locally
	}
	if event.Owner != "" && ew.callback != nil {
		ew.callback(event)
	}
}

// pruneSeenLocked drops bookkeeping for files the writer has already
// swept. Filenames start with the event's UnixNano timestamp; anything
// past twice the sweep age is long gone from disk.
func (ew *EventWatcher) pruneSeenLocked() {
	cutoff := time.Now().Add(-2 * maxEventAge).UnixNano()
	for name := range ew.seen {
		ts, _, ok := strings.Cut(name, "-")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || n < cutoff {
			delete(ew.seen, name)
		}
	}
}
