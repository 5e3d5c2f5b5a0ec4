// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio provides atomic file writing with backups.
package atomicio

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	backupTimeFormat = "20060102150405.000000000"
	maxBackups       = 10
)

// WriteFile writes data to name atomically: readers see either the old or the
// new contents, never a partial or missing file. The previous contents are
// kept in a timestamped backup next to the file, and only the latest
// maxBackups backups are retained.
func WriteFile(name string, data []byte, perm fs.FileMode) (err error) {
	// The temporary file must be on the same filesystem for os.Rename to be
	// atomic.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Link instead of renaming, so name exists until it is replaced.
	backupName := name + "." + time.Now().UTC().Format(backupTimeFormat) + ".bak"
	if err := os.Link(name, backupName); err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrExist) {
		return err
	}

	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}

	return pruneBackups(name)
}

// Backups returns the backups of name kept by [WriteFile], oldest first.
func Backups(name string) ([]string, error) {
	dir, base := filepath.Split(name)
	entries, err := os.ReadDir(cmp.Or(dir, "."))
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), base+".")
		if !ok || e.IsDir() || !strings.HasSuffix(stamp, ".bak") {
			continue
		}
		if _, err := time.Parse(backupTimeFormat, strings.TrimSuffix(stamp, ".bak")); err != nil {
			continue
		}
		backups = append(backups, filepath.Join(dir, e.Name()))
	}
	// Timestamps have a fixed-width prefix, so names sort chronologically.
	slices.Sort(backups)
	return backups, nil
}

func pruneBackups(name string) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	for len(backups) > maxBackups {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
