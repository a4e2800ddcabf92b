//go:build !linux && !darwin

package clock

import "time"

// time.Since uses the monotonic reading embedded in epoch.
var epoch = time.Now()

func now() time.Duration {
	return time.Since(epoch)
}
