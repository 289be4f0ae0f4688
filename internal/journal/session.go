package journal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// maxSessions bounds the sequence number search in OpenSession.
const maxSessions = 100000

// Session is a client's per-run log.
type Session struct {
	path string
	now  Clock
	mu   sync.Mutex
}

// OpenSession creates the next free <name>-NNN.log in dir and writes the
// "Session started" line to it. name must already be a valid file name
// component.
func OpenSession(dir, name string, now Clock) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session log directory %s: %w", dir, err)
	}

	for seq := 0; seq < maxSessions; seq++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d.log", name, seq))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session log %s: %w", path, err)
		}
		_ = f.Close()

		s := &Session{path: path, now: now.orDefault()}
		if err := s.Write(fmt.Sprintf("%s Session started for %s", TagSession, name), false); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("no free session log name for %q in %s", name, dir)
}

// Path returns the log file path.
func (s *Session) Path() string {
	return s.path
}

// Write appends message with a date and time stamp.
func (s *Session) Write(message string, lineBreak bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s - %s", s.now().Format(dateLayout+" "+timeLayout), message)
	return appendLine(s.path, line, lineBreak)
}

// Writef is Write with fmt.Sprintf formatting.
func (s *Session) Writef(lineBreak bool, format string, args ...any) error {
	return s.Write(fmt.Sprintf(format, args...), lineBreak)
}

// Lines returns every line written so far.
func (s *Session) Lines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readLines(s.path)
}

// LatestSession returns the path and lines of the highest-numbered session
// log of name in dir. It returns an error wrapping os.ErrNotExist when name
// has no session logs.
func LatestSession(dir, name string) (string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("failed to read session log directory %s: %w", dir, err)
	}

	best, bestSeq := "", -1
	for _, e := range entries {
		seq, ok := sessionSeq(e.Name(), name)
		if !ok || e.IsDir() || seq <= bestSeq {
			continue
		}
		best, bestSeq = filepath.Join(dir, e.Name()), seq
	}
	if best == "" {
		return "", nil, fmt.Errorf("no session logs for %q in %s: %w", name, dir, os.ErrNotExist)
	}

	lines, err := readLines(best)
	if err != nil {
		return "", nil, err
	}
	return best, lines, nil
}

// sessionSeq parses the sequence number of a "<name>-NNN.log" file name.
func sessionSeq(fileName, name string) (int, bool) {
	rest, ok := strings.CutPrefix(fileName, name+"-")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, ".log")
	if !ok || len(digits) < 3 {
		return 0, false
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
