// Package safefile provides hardened file opening for the untrusted inputs
// of a search run: definition documents, log files and hook plugins.
package safefile

import (
	"errors"
	"os"
)

// ErrNotRegularFile is returned when the path does not point at a regular
// file: symlinks, FIFOs, devices, sockets and directories are rejected.
var ErrNotRegularFile = errors.New("not a regular file")

// OpenRegular opens path and verifies it is a regular file, narrowing the
// TOCTOU window where the path could be swapped for a symlink or special
// file between check and open:
//
//  1. Lstat the path without following symlinks
//  2. Open the file
//  3. Stat the descriptor and re-verify
//
// A small window between Lstat and Open remains; Go's standard library does
// not expose O_NOFOLLOW portably. The caller must close the returned file.
func OpenRegular(path string) (*os.File, os.FileInfo, error) {
	linkInfo, err := os.Lstat(path)
	if err != nil {
		return nil, nil, err
	}
	if !linkInfo.Mode().IsRegular() {
		return nil, nil, ErrNotRegularFile
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	// The file may have been replaced between Lstat and Open.
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotRegularFile
	}

	return f, info, nil
}
