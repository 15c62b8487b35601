package resource

import (
	"path"

	"go.uber.org/zap"

	"github.com/ricochet1k/officemesh/internal/logging"
	"github.com/ricochet1k/officemesh/internal/vfs"
)

// Install writes each resource into dir on store. When a write fails the
// directory is created and the write retried once; a resource that still
// cannot be written is logged and skipped. It returns the installed paths.
func Install(store vfs.Store, dir string, resources []Resolved, logger *zap.Logger) []string {
	log := logging.Or(logger).Named("resource")
	installed := make([]string, 0, len(resources))
	madeDir := false

	for _, res := range resources {
		target := path.Join(dir, TrimName(res.FileName))
		err := store.WriteFile(target, res.Data)
		if err != nil && !madeDir {
			if mkErr := store.MkdirAll(dir); mkErr != nil {
				log.Warn("resource directory create failed", zap.String("dir", dir), zap.Error(mkErr))
			}
			madeDir = true
			err = store.WriteFile(target, res.Data)
		}
		if err != nil {
			log.Warn("resource install failed", zap.String("path", target), zap.Error(err))
			continue
		}
		installed = append(installed, target)
	}
	return installed
}

// Hook returns a pre-run function that installs resources into FontDir.
// The installed paths are reported through done when it is non-nil.
func Hook(resources []Resolved, logger *zap.Logger, done func([]string)) func(vfs.Store) error {
	return func(store vfs.Store) error {
		paths := Install(store, FontDir, resources, logger)
		if done != nil {
			done(paths)
		}
		return nil
	}
}
