package account

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce absorbs the burst of Write/Create/Rename events a single
// atomic snapshot save can produce, matching the delay the teacher's config
// watcher uses before reacting.
const reloadDebounce = 150 * time.Millisecond

// Watch watches the directory containing the store's snapshot file and
// reloads accounts from disk whenever the file changes underneath the
// running process, e.g. a sibling instance rotating credentials. It blocks
// until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Debugf("account store: watching %s for snapshot changes", dir)

	var mu sync.Mutex
	var timer *time.Timer
	reload := func() {
		if err := s.Load(); err != nil {
			log.Errorf("account store: reload %s: %v", s.path, err)
			return
		}
		log.Debugf("account store: reloaded snapshot from %s", s.path)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			reloadOps := fsnotify.Write | fsnotify.Create | fsnotify.Rename
			if event.Op&reloadOps == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			mu.Unlock()
		case errWatch, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("account store: watcher error: %v", errWatch)
		}
	}
}
