//go:build windows

package repository

import (
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// changeTime returns the file creation time.
func changeTime(path string, info os.FileInfo) time.Time {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return info.ModTime()
	}
	var data windows.Win32FileAttributeData
	if err := windows.GetFileAttributesEx(ptr, windows.GetFileExInfoStandard, (*byte)(unsafe.Pointer(&data))); err != nil {
		return info.ModTime()
	}
	return time.Unix(0, data.CreationTime.Nanoseconds())
}

// touchChangeTime sets the creation, access and write times of a directory.
func touchChangeTime(path string, now time.Time) error {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	h, err := windows.CreateFile(ptr, windows.FILE_WRITE_ATTRIBUTES, windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_BACKUP_SEMANTICS, 0)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	ft := windows.NsecToFiletime(now.UnixNano())
	return windows.SetFileTime(h, &ft, &ft, &ft)
}
