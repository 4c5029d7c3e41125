package trial

import (
	"fmt"
	"os"
	"time"
)

// acquireLock takes an advisory cross-process lock by creating a lock file
// exclusively. A second app instance touching the same trial file blocks here
// until the holder releases or the lock goes stale (holder crashed).
func acquireLock(path string, staleAfter time.Duration) (func(), error) {
	deadline := time.Now().Add(staleAfter + time.Second)
	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(file, "%d\n", os.Getpid())
			file.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		// Lock held by someone else; break it if the holder looks dead.
		if info, serr := os.Stat(path); serr == nil && time.Since(info.ModTime()) > staleAfter {
			os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for trial lock %s", path)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
