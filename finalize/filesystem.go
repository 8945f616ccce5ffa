// Package finalize performs the filesystem side effects of finalizing
// a distributed INSERT query: moving or deleting the files backends
// staged during execution, per spec.md §4.8.
package finalize

import (
	"os"

	"github.com/pkg/errors"
)

// Filesystem is the narrow capability the Finalizer needs from the
// storage layer (out of scope per spec.md §6's "Outbound (to
// filesystem, INSERT only)"). OSFilesystem backs it with the real
// local filesystem; tests substitute a fake.
type Filesystem interface {
	Move(src, dest string) error
	Delete(src string) error
	Exists(path string) bool
}

// OSFilesystem implements Filesystem with os.Rename/os.Remove.
type OSFilesystem struct {
	// Overwrite allows Move to replace a pre-existing destination
	// file rather than failing fast, when the plan flags overwrite
	// (spec.md §4.8 point 1).
	Overwrite bool
}

func (fs OSFilesystem) Move(src, dest string) error {
	if dest == "" {
		return fs.Delete(src)
	}
	if !fs.Exists(src) && fs.Exists(dest) {
		// A replay of a move this same query already completed.
		return nil
	}
	if !fs.Overwrite && fs.Exists(dest) {
		return errors.Errorf("finalize: destination %q already exists", dest)
	}
	if err := os.Rename(src, dest); err != nil {
		return errors.Wrapf(err, "moving %s to %s", src, dest)
	}
	return nil
}

func (fs OSFilesystem) Delete(src string) error {
	if err := os.Remove(src); err != nil {
		if os.IsNotExist(err) {
			// Tolerate idempotent replay of a finalize step that
			// already ran (spec.md §4.8 point 1).
			return nil
		}
		return errors.Wrapf(err, "deleting %s", src)
	}
	return nil
}

func (fs OSFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ApplyFileMoves performs every (src, dest) move in order, tolerating
// idempotent replay (a move whose dest already equals what src would
// produce) but failing fast on a genuine conflict (spec.md §4.8).
func ApplyFileMoves(fs Filesystem, moves []FileMove) error {
	for _, m := range moves {
		if m.Dest == "" {
			if err := fs.Delete(m.Src); err != nil {
				return err
			}
			continue
		}
		if err := fs.Move(m.Src, m.Dest); err != nil {
			return err
		}
	}
	return nil
}

// FileMove is one (src, dest) pair; an empty Dest means delete.
type FileMove struct {
	Src  string
	Dest string
}
