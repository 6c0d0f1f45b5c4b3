package routes

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchDirLocked registers the directory of path with the file watcher.
// Directories are watched rather than files so that editors replacing the
// file by rename keep being observed. Caller holds s.mu.
func (s *Scheduler) watchDirLocked(path string) {
	dir := filepath.Dir(filepath.Clean(path))
	if s.dirs[dir] {
		return
	}
	s.dirs[dir] = true
	if s.fw != nil {
		if err := s.fw.Add(dir); err != nil {
			s.logger.Warn("cannot watch rule directory", "dir", dir, "err", err)
		}
	}
}

// unwatchDirLocked drops the directory of path once no tracked rule file
// lives in it. Caller holds s.mu.
func (s *Scheduler) unwatchDirLocked(path string) {
	dir := filepath.Dir(filepath.Clean(path))
	if !s.dirs[dir] {
		return
	}
	for _, t := range s.tracked {
		if filepath.Dir(filepath.Clean(t.path)) == dir {
			return
		}
	}
	delete(s.dirs, dir)
	if s.fw != nil {
		if err := s.fw.Remove(dir); err != nil {
			s.logger.Debug("cannot unwatch rule directory", "dir", dir, "err", err)
		}
	}
}

func (s *Scheduler) startWatcher(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.fw = fw
	for dir := range s.dirs {
		if err := fw.Add(dir); err != nil {
			s.logger.Warn("cannot watch rule directory", "dir", dir, "err", err)
		}
	}
	s.mu.Unlock()

	go s.watchLoop(ctx, fw)
	return nil
}

func (s *Scheduler) stopWatcher() {
	s.mu.Lock()
	fw := s.fw
	s.fw = nil
	s.mu.Unlock()
	if fw != nil {
		fw.Close()
	}
}

func (s *Scheduler) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			for _, name := range s.accountsFor(ev.Name) {
				s.Check(name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("rule file watcher error", "err", err)
		}
	}
}

// accountsFor returns the tracked accounts whose rule file is path.
func (s *Scheduler) accountsFor(path string) []string {
	path = filepath.Clean(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, t := range s.tracked {
		if filepath.Clean(t.path) == path {
			names = append(names, name)
		}
	}
	return names
}
