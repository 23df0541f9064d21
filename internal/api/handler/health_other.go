//go:build !linux && !darwin && !windows

package handler

import "time"

func processCPUTime() (time.Duration, bool) { return 0, false }

func volumeSize(path string) (total, avail uint64, ok bool) { return 0, 0, false }
