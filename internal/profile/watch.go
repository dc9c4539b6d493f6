package profile

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/runcage/runcage/internal/enginelog"
)

// Watch reloads the profile whenever the project-local profile file
// changes and invokes onChange with the newly merged result. It runs until
// ctx is canceled. Used only by the serve daemon — the one-shot run
// command loads a profile once and never needs to react to edits mid
// request.
func Watch(ctx context.Context, onChange func(Profile)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(".runcage"); err != nil {
		enginelog.Log.Warn("profile: not watching .runcage for changes", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p, err := Load()
			if err != nil {
				enginelog.Log.Warn("profile: reload failed, keeping previous profile", "error", err)
				continue
			}
			onChange(p)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			enginelog.Log.Warn("profile: watcher error", "error", err)
		}
	}
}
