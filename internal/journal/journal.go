package journal

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Tags used by the client and server when writing log lines.
const (
	TagSession = "[SESSION]"
	TagCheck   = "[CHECK]"
	TagRebuild = "[REBUILD]"
	TagGet     = "[GET]"
	TagPost    = "[POST]"
	TagError   = "[ERROR]"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// appendLine appends one formatted line to the file at path, creating it if
// needed.
func appendLine(path, line string, lineBreak bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	if lineBreak {
		b.WriteByte('\n')
	}
	b.WriteString(line)
	b.WriteByte('\n')

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write log %s: %w", path, err)
	}
	return nil
}

// readLines returns the lines of the file at path without line terminators.
// Blank separator lines are returned as empty strings.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	lines := []string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log %s: %w", path, err)
	}
	return lines, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
