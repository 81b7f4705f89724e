//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/zulandar/gitdeploy/internal/failure"
	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking exclusive flock on path.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, failure.New(failure.Busy, "lock: %s is held", path)
		}
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
