//go:build linux || darwin

package source

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

func readRusage() (rusage, bool, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return rusage{}, false, fmt.Errorf("getrusage: %w", err)
	}

	maxRSS := int64(ru.Maxrss)
	// Linux reports kilobytes, Darwin bytes.
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}

	return rusage{
		user:        time.Duration(ru.Utime.Nano()),
		sys:         time.Duration(ru.Stime.Nano()),
		maxRSSBytes: maxRSS,
	}, true, nil
}
