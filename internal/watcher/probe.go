package watcher

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProbeFSNotify tests whether fsnotify delivers events for the directory
// dir. It creates a temporary file inside dir, watches for the Create event,
// and returns true if the event arrives within the timeout. Bind mounts and
// network filesystems commonly fail this check.
func ProbeFSNotify(dir string, timeout time.Duration) bool {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false
	}
	defer w.Close() //nolint:errcheck

	if err := w.Add(dir); err != nil {
		return false
	}

	probeName := fmt.Sprintf(".musicmap_probe_%d", rand.Int63()) //nolint:gosec // G404: not security-sensitive
	probePath := filepath.Join(dir, probeName)

	f, err := os.OpenFile(probePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: probe file is temporary
	if err != nil {
		return false
	}
	f.Close()                 //nolint:errcheck
	defer os.Remove(probePath) //nolint:errcheck

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return false
			}
			if ev.Has(fsnotify.Create) && filepath.Base(ev.Name) == probeName {
				return true
			}
		case <-w.Errors:
			return false
		case <-timer.C:
			return false
		}
	}
}
