//go:build linux || darwin

package repository

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// changeTime returns the inode status-change time of path, which is the
// closest thing to a creation time these platforms report for directories.
func changeTime(path string, info os.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Ctim.Unix())
}

// touchChangeTime sets the change time of path to now as a side effect
// of updating its access and modification times.
func touchChangeTime(path string, now time.Time) error {
	return os.Chtimes(path, now, now)
}
