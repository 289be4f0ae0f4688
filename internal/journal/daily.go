package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ActivityDir returns the activity log directory below a server data
// directory.
func ActivityDir(dataDir string) string {
	return filepath.Join(dataDir, "log", "activity")
}

// Daily is the server activity log, rolled over at midnight.
type Daily struct {
	dir string
	now Clock

	mu   sync.Mutex
	date string
	path string
}

// OpenDaily creates dir if needed and writes the "Server started" line to
// today's file. If the file already holds an earlier run, a blank line
// separates the two.
func OpenDaily(dir string, now Clock) (*Daily, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create activity log directory %s: %w", dir, err)
	}

	d := &Daily{dir: dir, now: now.orDefault()}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.startLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

// startLocked points the log at today's file and writes the session header.
func (d *Daily) startLocked() error {
	t := d.now()
	d.date = t.Format(dateLayout)
	d.path = filepath.Join(d.dir, d.date+".log")

	line := fmt.Sprintf("%s - %s Server started", t.Format(timeLayout), TagSession)
	return appendLine(d.path, line, fileExists(d.path))
}

// rollLocked switches to a new file when the date has changed since the
// last write.
func (d *Daily) rollLocked() error {
	if d.now().Format(dateLayout) == d.date {
		return nil
	}
	return d.startLocked()
}

// Path returns the file currently being written.
func (d *Daily) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Client writes a line attributed to the named client.
func (d *Daily) Client(name, message string, lineBreak bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rollLocked(); err != nil {
		return err
	}
	line := fmt.Sprintf("%s - [CLIENT: %s] %s", d.now().Format(timeLayout), name, message)
	return appendLine(d.path, line, lineBreak)
}

// Lines returns the lines of the current day's file. The date is checked
// first so that a request just after midnight reads the new file.
func (d *Daily) Lines() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rollLocked(); err != nil {
		return nil, err
	}
	return readLines(d.path)
}

// Close writes the "Server shutting down" line. When the day has changed
// since the last write, the line opens the new day's file without a
// separator.
func (d *Daily) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := d.now()
	lineBreak := true
	if date := t.Format(dateLayout); date != d.date {
		d.date = date
		d.path = filepath.Join(d.dir, date+".log")
		lineBreak = false
	}
	line := fmt.Sprintf("%s - %s Server shutting down", t.Format(timeLayout), TagSession)
	return appendLine(d.path, line, lineBreak)
}
