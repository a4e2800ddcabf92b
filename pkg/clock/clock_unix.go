//go:build linux || darwin

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

var fallbackEpoch = time.Now()

func now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Since(fallbackEpoch)
	}
	return time.Duration(ts.Nano())
}
