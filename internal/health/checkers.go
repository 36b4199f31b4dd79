package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"scribed/internal/ipc"
)

// StatusFresh returns a checker that fails when the daemon status file is
// missing or its heartbeat is older than maxAge. A stale heartbeat means
// the daemon loop has stalled even though the process still serves HTTP.
func StatusFresh(statusPath string, maxAge time.Duration) Checker {
	return Checker{
		Name: "status",
		Check: func(_ context.Context) error {
			var st ipc.Status
			if err := ipc.ReadJSONFile(statusPath, &st); err != nil {
				return err
			}
			age := ipc.Now() - st.Timestamp
			if age < 0 || age > maxAge.Seconds() {
				return fmt.Errorf("heartbeat is %.0fs old (max %v)", age, maxAge)
			}
			return nil
		},
	}
}

// InboxWritable returns a checker that verifies the daemon can create files
// in the request inbox. A read-only or deleted runtime directory makes the
// daemon unreachable for clients.
func InboxWritable(dir string) Checker {
	return Checker{
		Name: "inbox",
		Check: func(_ context.Context) error {
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return err
			}
			name := f.Name()
			f.Close()
			return os.Remove(name)
		},
	}
}

// ModelFile returns a checker that verifies the configured model file still
// exists and is non-empty. The model can disappear under a running daemon
// when a model manager swaps files on disk.
func ModelFile(path string) Checker {
	return Checker{
		Name: "model",
		Check: func(_ context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%q is a directory", filepath.Clean(path))
			}
			if info.Size() == 0 {
				return fmt.Errorf("%q is empty", filepath.Clean(path))
			}
			return nil
		},
	}
}
