//go:build windows

package handler

import (
	"time"

	"golang.org/x/sys/windows"
)

func processCPUTime() (time.Duration, bool) {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.CurrentProcess(), &creation, &exit, &kernel, &user); err != nil {
		return 0, false
	}
	return filetimeSpan(kernel) + filetimeSpan(user), true
}

// filetimeSpan reads a FILETIME holding a span in 100ns ticks.
func filetimeSpan(ft windows.Filetime) time.Duration {
	return time.Duration(uint64(ft.HighDateTime)<<32|uint64(ft.LowDateTime)) * 100
}

func volumeSize(path string) (total, avail uint64, ok bool) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, false
	}
	var free, size, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &free, &size, &totalFree); err != nil {
		return 0, 0, false
	}
	return size, free, true
}
