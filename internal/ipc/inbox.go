package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Inbox polls a directory for request files and delivers each file exactly
// once per appearance: a filename is remembered after delivery and skipped
// on later scans until the file has been removed from disk, after which a
// new file under the same name is delivered again.
//
// Files are delivered oldest-first by modification time so bursts submitted
// while the daemon was busy are processed in arrival order.
type Inbox struct {
	dir  string
	seen map[string]struct{}
}

// NewInbox creates the inbox directory if needed and returns a poller
// over it.
func NewInbox(dir string) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ipc: create inbox %q: %w", dir, err)
	}
	return &Inbox{
		dir:  dir,
		seen: make(map[string]struct{}),
	}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Poll scans the inbox once and returns the paths of request files not yet
// delivered, oldest first. Temp files from in-flight atomic writes are
// ignored.
func (in *Inbox) Poll() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("ipc: scan inbox %q: %w", in.dir, err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var fresh []candidate
	onDisk := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		onDisk[name] = struct{}{}
		if _, ok := in.seen[name]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info; pick it up next scan
			// if it reappears.
			continue
		}
		fresh = append(fresh, candidate{
			path: filepath.Join(in.dir, name),
			mod:  info.ModTime(),
		})
	}

	// Forget names whose files are gone so a resubmitted identifier is
	// delivered again.
	for name := range in.seen {
		if _, ok := onDisk[name]; !ok {
			delete(in.seen, name)
		}
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].mod.Equal(fresh[j].mod) {
			return fresh[i].path < fresh[j].path
		}
		return fresh[i].mod.Before(fresh[j].mod)
	})

	paths := make([]string, 0, len(fresh))
	for _, c := range fresh {
		in.seen[filepath.Base(c.path)] = struct{}{}
		paths = append(paths, c.path)
	}
	return paths, nil
}

// Consume removes a delivered request file from disk. Missing files are
// not an error; the submitter may have withdrawn the request.
func (in *Inbox) Consume(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: consume %q: %w", path, err)
	}
	delete(in.seen, filepath.Base(path))
	return nil
}
