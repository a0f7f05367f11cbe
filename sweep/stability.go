package sweep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	stabilityAttempts = 8
	stabilityBaseWait = 500 * time.Millisecond
)

var (
	// ErrVanished means the candidate disappeared mid-check.
	ErrVanished = errors.New("file vanished during stability check")
	// ErrUnstable means the size never settled within the attempt budget.
	ErrUnstable = errors.New("file did not stabilize")

	errBusy = errors.New("file locked by writer")
)

// waitStable blocks until the file's size is unchanged across two
// consecutive locked stats and greater than zero. Every failed attempt
// is followed by a linearly growing wait (500ms, 1s, ... 4s), so a file
// that never settles costs the full 18s budget. sleep is injectable for
// tests.
func waitStable(path string, sleep func(time.Duration)) (int64, error) {
	var lastSize int64 = -1
	for attempt := 1; attempt <= stabilityAttempts; attempt++ {
		size, err := lockedSize(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return 0, ErrVanished
		case errors.Is(err, errBusy):
			// A writer still holds the file. Forget the last size, the
			// next stat must stand on its own pair.
			lastSize = -1
		case err != nil:
			return 0, err
		case size > 0 && size == lastSize:
			return size, nil
		default:
			lastSize = size
		}

		sleep(stabilityBaseWait * time.Duration(attempt))
	}
	return 0, fmt.Errorf("%w after %d attempts: %s", ErrUnstable, stabilityAttempts, path)
}

// lockedSize stats the file while holding a non-blocking exclusive
// flock, so a writer still appending is detected as busy rather than
// producing a misleading size.
func lockedSize(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return 0, errBusy
		}
		return 0, fmt.Errorf("flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
