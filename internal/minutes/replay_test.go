package minutes

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeSnapshot(t *testing.T, dir, name string, eventID int) {
	t.Helper()
	data := fmt.Sprintf(`{"EventId":%d,"EventDate":"2024-01-16T00:00:00","EventTime":"7:00 PM"}`, eventID)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
}

func TestFileSourceReplay(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "meeting-20240116T190000.json", 42)
	writeSnapshot(t, dir, "meeting-20240116T190100.json", 42)
	writeSnapshot(t, dir, "meeting-20240116T190500.json", 42)

	source, err := NewFileSource(filepath.Join(dir, "meeting-"), testLogger())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 16, 19, 0, 0, 0, time.UTC), source.Now())

	event, err := source.GetMinutes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, event.ID)

	// One minute forward lands on the second snapshot.
	source.Wait(time.Minute)
	assert.Equal(t, time.Date(2024, 1, 16, 19, 1, 0, 0, time.UTC), source.Now())

	// The next wait skips the gap to the third snapshot.
	source.Wait(time.Minute)
	assert.Equal(t, time.Date(2024, 1, 16, 19, 5, 0, 0, time.UTC), source.Now())

	_, err = source.GetMinutes(context.Background())
	require.NoError(t, err)

	// Exhausted history means the meeting is over.
	source.Wait(time.Minute)
	_, err = source.GetMinutes(context.Background())
	assert.ErrorIs(t, err, ErrMeetingOver)
}

func TestFileSourceNoMatches(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nothing-"), testLogger())
	assert.Error(t, err)
}

func TestFileSourceCorruptSnapshotIsTransient(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meeting-20240116T190000.json"), []byte("{not json"), 0o644))

	source, err := NewFileSource(filepath.Join(dir, "meeting-"), testLogger())
	require.NoError(t, err)

	_, err = source.GetMinutes(context.Background())
	assert.True(t, IsTransient(err))
}

func TestParseGitLog(t *testing.T) {
	out := []byte(
		"bbb2222 2024-01-16 19:05:00 -0500\n" +
			"aaa1111 2024-01-16 19:00:00 -0500\n")

	commits, err := parseGitLog(out)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	// git prints newest first; replay runs oldest first.
	assert.Equal(t, "aaa1111", commits[0].hash)
	assert.Equal(t, "bbb2222", commits[1].hash)
	assert.True(t, commits[0].when.Before(commits[1].when))
}

func TestParseGitLogBadLine(t *testing.T) {
	_, err := parseGitLog([]byte("justahashnospaces\n"))
	assert.Error(t, err)

	_, err = parseGitLog([]byte("aaa1111 not-a-date\n"))
	assert.Error(t, err)
}

func TestParseGitLogEmpty(t *testing.T) {
	commits, err := parseGitLog(nil)
	require.NoError(t, err)
	assert.Empty(t, commits)
}
