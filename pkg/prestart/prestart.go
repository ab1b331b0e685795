// Package prestart provisions the writable directories the application expects before
// it starts, and optionally expires old files inside them.
package prestart

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	cberrors "github.com/Azure/container-bootstrap/pkg/common/errors"
	"github.com/Azure/container-bootstrap/pkg/logger"
)

type Options struct {
	BaseDir string
	Dirs    []string
	Mode    fs.FileMode
	// CleanupAfter removes regular files older than this from the directories.
	// Zero disables cleanup.
	CleanupAfter time.Duration
	Now          func() time.Time
}

type Result struct {
	Created []string
	Chmoded []string
	Present []string
	Removed []string
}

// Run ensures every directory exists with the configured mode and then runs the
// optional cleanup. Cleanup failures are logged and never returned.
func Run(opts Options) (*Result, error) {
	result, err := EnsureDirs(opts.BaseDir, opts.Dirs, opts.Mode)
	if err != nil {
		return result, err
	}
	if opts.CleanupAfter <= 0 {
		return result, nil
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	paths := make([]string, 0, len(opts.Dirs))
	for _, d := range opts.Dirs {
		paths = append(paths, resolve(opts.BaseDir, d))
	}
	removed, cleanupErr := CleanupOldFiles(paths, opts.CleanupAfter, now())
	result.Removed = removed
	if cleanupErr != nil {
		logger.Warnf("Cleanup of old files was incomplete: %v", cleanupErr)
	}
	return result, nil
}

// EnsureDirs creates each directory with mode, or fixes the mode of an existing one.
// Running it again changes nothing.
func EnsureDirs(base string, dirs []string, mode fs.FileMode) (*Result, error) {
	result := &Result{}
	for _, d := range dirs {
		path := resolve(base, d)
		info, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			if err := os.MkdirAll(path, mode); err != nil {
				return result, cberrors.New(cberrors.CodeIoError, "prestart", fmt.Sprintf("creating %s", path), err)
			}
			// MkdirAll is subject to the umask.
			if err := os.Chmod(path, mode); err != nil {
				return result, cberrors.New(cberrors.CodeIoError, "prestart", fmt.Sprintf("chmod %s", path), err)
			}
			logger.Infof("Created directory %s (%04o)", path, mode)
			result.Created = append(result.Created, path)
		case err != nil:
			return result, cberrors.New(cberrors.CodeIoError, "prestart", fmt.Sprintf("stat %s", path), err)
		case !info.IsDir():
			return result, cberrors.Newf(cberrors.CodeInvalidParameter, "prestart", "%s exists and is not a directory", path)
		case info.Mode().Perm() != mode.Perm():
			if err := os.Chmod(path, mode); err != nil {
				return result, cberrors.New(cberrors.CodeIoError, "prestart", fmt.Sprintf("chmod %s", path), err)
			}
			logger.Infof("Changed mode of %s from %04o to %04o", path, info.Mode().Perm(), mode)
			result.Chmoded = append(result.Chmoded, path)
		default:
			logger.Debugf("Directory %s already present", path)
			result.Present = append(result.Present, path)
		}
	}
	return result, nil
}

// CleanupOldFiles removes regular files whose modification time is older than
// now - age. It keeps going after errors and returns them aggregated.
func CleanupOldFiles(dirs []string, age time.Duration, now time.Time) ([]string, error) {
	cutoff := now.Add(-age)
	var removed []string
	var errs []error
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				return nil
			}
			removed = append(removed, path)
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(removed) > 0 {
		logger.Infof("Removed %d files older than %s", len(removed), age)
	}
	return removed, utilerrors.NewAggregate(errs)
}

func resolve(base, dir string) string {
	if filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}
