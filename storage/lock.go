package storage

import (
	"fmt"
	"os"
	"strconv"
)

// AcquireRunLock takes an exclusive lock file guarding the stores. The
// active store's read-modify-write is not safe under concurrent writers, so
// an overlapping invocation must fail fast instead of corrupting state.
// The returned release function removes the lock.
func AcquireRunLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lock: %q exists — another run is in progress (remove it if that run crashed)", path)
		}
		return nil, fmt.Errorf("lock: create %q: %w", path, err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}
