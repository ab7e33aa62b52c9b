// SPDX-License-Identifier: MIT

package executor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// backupPath builds "<name>.vpo_backup.<ext>" next to the target.
func backupPath(target string) string {
	dir := filepath.Dir(target)
	base := filepath.Base(target)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, name+".vpo_backup"+ext)
}

// tempPath builds the ".vpo_temp_<name>.<ext>" sibling the run writes
// into. The sentinel prefix lets the maintenance sweep identify
// orphans from crashed runs.
func tempPath(target string) string {
	dir := filepath.Dir(target)
	return filepath.Join(dir, ".vpo_temp_"+filepath.Base(target))
}

// createBackup snapshots the source before mutation: a hard link when
// the filesystem allows it, otherwise a full copy.
func createBackup(source string) (string, error) {
	bak := backupPath(source)
	_ = os.Remove(bak)

	if err := os.Link(source, bak); err == nil {
		return bak, nil
	}
	if err := copyFile(source, bak); err != nil {
		return "", fmt.Errorf("backup copy: %w", err)
	}
	return bak, nil
}

// restoreBackup puts the pre-run file back. Called on every failure
// path between backup creation and the atomic replace.
func restoreBackup(backup, target string) error {
	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("backup missing: %w", err)
	}
	if err := os.Rename(backup, target); err == nil {
		return nil
	}
	if err := copyFile(backup, target); err != nil {
		return err
	}
	return os.Remove(backup)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// replaceFile moves temp over target atomically; a cross-device rename
// failure degrades to copy+fsync+rename within the target directory.
func replaceFile(temp, target string) error {
	if err := os.Rename(temp, target); err == nil {
		return nil
	}
	staging := target + ".vpo_staging"
	if err := copyFile(temp, staging); err != nil {
		_ = os.Remove(staging)
		return err
	}
	if err := os.Rename(staging, target); err != nil {
		_ = os.Remove(staging)
		return err
	}
	return os.Remove(temp)
}
