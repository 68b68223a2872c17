package minutes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/a2council/a2councilbot/internal/logging"
)

const snapshotTimestampLayout = "20060102T150405"

// FileSource replays a meeting from a sorted sequence of snapshot files, one
// per polling run, named with a trailing UTC timestamp. Wait advances the
// replay index instead of sleeping, so a whole meeting replays in one pass.
type FileSource struct {
	files  []string
	idx    int
	logger logging.Logger
}

// NewFileSource builds a replay source from files matching prefix*.json.
func NewFileSource(prefix string, logger logging.Logger) (*FileSource, error) {
	files, err := filepath.Glob(prefix + "*.json")
	if err != nil {
		return nil, fmt.Errorf("bad snapshot pattern %q: %w", prefix, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no snapshot files match %q", prefix)
	}
	sort.Strings(files)
	return &FileSource{files: files, logger: logger}, nil
}

// Now derives the simulated clock from the current snapshot's filename.
func (s *FileSource) Now() time.Time {
	return s.timeAt(s.idx)
}

func (s *FileSource) timeAt(idx int) time.Time {
	if idx >= len(s.files) {
		idx = len(s.files) - 1
	}
	name := filepath.Base(s.files[idx])
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if len(name) < len(snapshotTimestampLayout) {
		return time.Time{}
	}
	ts, err := time.Parse(snapshotTimestampLayout, name[len(name)-len(snapshotTimestampLayout):])
	if err != nil {
		s.logger.WithError(err).WithField("file", s.files[idx]).Warn("Snapshot filename has no parseable timestamp")
		return time.Time{}
	}
	return ts.UTC()
}

// Wait advances through snapshots until the simulated clock has moved d past
// the current time, or the snapshots run out.
func (s *FileSource) Wait(d time.Duration) {
	target := s.Now().Add(d)
	for s.Now().Before(target) {
		if s.idx >= len(s.files) {
			return
		}
		s.idx++
	}
}

// GetMinutes returns the current snapshot, or ErrMeetingOver once exhausted.
func (s *FileSource) GetMinutes(ctx context.Context) (*Event, error) {
	if s.idx >= len(s.files) {
		return nil, ErrMeetingOver
	}
	s.logger.WithField("time", s.Now().Format(time.RFC3339)).Info("Starting new replay polling run")

	raw, err := os.ReadFile(s.files[s.idx])
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to parse %s: %w", s.files[s.idx], err)}
	}
	return &event, nil
}

type gitCommit struct {
	hash string
	when time.Time
}

// GitSource replays a meeting from the version history of a single snapshot
// file kept in a git repository, oldest commit first. Commit timestamps drive
// the simulated clock.
type GitSource struct {
	dir     string
	name    string
	commits []gitCommit
	idx     int
	logger  logging.Logger
}

// NewGitSource builds a replay source from the git history of path.
func NewGitSource(path string, logger logging.Logger) (*GitSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir, name := filepath.Dir(abs), filepath.Base(abs)

	cmd := exec.Command("git", "log", "--pretty=%H %ad", "--date=iso8601", name)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git log failed for %s: %w", abs, err)
	}
	commits, err := parseGitLog(out)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("no commits touch %s", abs)
	}
	return &GitSource{dir: dir, name: name, commits: commits, logger: logger}, nil
}

// parseGitLog reads "hash iso8601-date" lines (newest first, as git prints
// them) and returns commits in oldest-first replay order.
func parseGitLog(out []byte) ([]gitCommit, error) {
	var commits []gitCommit
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		hash, dateString, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unexpected git log line: %q", line)
		}
		when, err := time.Parse("2006-01-02 15:04:05 -0700", strings.TrimSpace(dateString))
		if err != nil {
			return nil, fmt.Errorf("unexpected git log date in %q: %w", line, err)
		}
		// git prints newest first; replay wants oldest first
		commits = append([]gitCommit{{hash: hash, when: when}}, commits...)
	}
	return commits, scanner.Err()
}

// Now derives the simulated clock from the current commit.
func (s *GitSource) Now() time.Time {
	idx := s.idx
	if idx >= len(s.commits) {
		idx = len(s.commits) - 1
	}
	return s.commits[idx].when
}

// Wait advances through commits until the simulated clock has moved d past
// the current time, or the history runs out.
func (s *GitSource) Wait(d time.Duration) {
	target := s.Now().Add(d)
	for s.Now().Before(target) {
		if s.idx >= len(s.commits) {
			return
		}
		s.idx++
	}
}

// GetMinutes returns the snapshot as of the current commit, or ErrMeetingOver
// once history is exhausted.
func (s *GitSource) GetMinutes(ctx context.Context) (*Event, error) {
	if s.idx >= len(s.commits) {
		return nil, ErrMeetingOver
	}
	s.logger.WithField("time", s.Now().Format(time.RFC3339)).Info("Starting new replay polling run")

	cmd := exec.CommandContext(ctx, "git", "show", fmt.Sprintf("%s:%s", s.commits[s.idx].hash, s.name))
	cmd.Dir = s.dir
	out, err := cmd.Output()
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("git show failed: %w", err)}
	}
	var event Event
	if err := json.Unmarshal(out, &event); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to parse snapshot at %s: %w", s.commits[s.idx].hash, err)}
	}
	return &event, nil
}
