package batch

import (
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobManagerRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))
	writeFile(t, filepath.Join(dir, "b.png"), "broken")

	m := NewJobManager(NewDriver(&fakeRecognizer{}, WithClock(fixedClock)), nil)
	defer m.Close()

	snap, err := m.Start(defaultOptions(dir, t.TempDir()))
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 2, snap.Progress.Total)

	m.Wait()
	got, ok := m.Get(snap.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, got.State)
	require.NotNil(t, got.Report)
	assert.Equal(t, snap.ID, got.Report.JobID)
	assert.Equal(t, 1, got.Report.Succeeded)
	assert.Equal(t, 1, got.Report.Failed)
	assert.Equal(t, 2, got.Progress.Current)
	assert.False(t, got.FinishedAt.IsZero())

	assert.Len(t, m.List(), 1)
}

func TestJobManagerRejectsInvalidOptions(t *testing.T) {
	m := NewJobManager(NewDriver(&fakeRecognizer{}), nil)
	defer m.Close()

	opts := defaultOptions("", t.TempDir())
	_, err := m.Start(opts)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	assert.Empty(t, m.List())
}

func TestJobManagerCancel(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png"} {
		writePNG(t, filepath.Join(dir, name))
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &fakeRecognizer{onCall: func(path string) {
		if filepath.Base(path) == "1.png" {
			close(entered)
			<-release
		}
	}}

	m := NewJobManager(NewDriver(rec), nil)
	defer m.Close()

	snap, err := m.Start(defaultOptions(dir, t.TempDir()))
	require.NoError(t, err)

	<-entered
	assert.True(t, m.Cancel(snap.ID))
	close(release)

	require.Eventually(t, func() bool {
		got, _ := m.Get(snap.ID)
		return got.State != JobRunning
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := m.Get(snap.ID)
	assert.Equal(t, JobCancelled, got.State)
	assert.Equal(t, 1, got.Report.Succeeded)
	assert.Len(t, rec.calls(), 1)

	assert.False(t, m.Cancel("no-such-job"))
	_, ok := m.Get("no-such-job")
	assert.False(t, ok)
}

func TestJobManagerClosedRejectsStart(t *testing.T) {
	m := NewJobManager(NewDriver(&fakeRecognizer{}), nil)
	m.Close()
	_, err := m.Start(defaultOptions(t.TempDir(), t.TempDir()))
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
}

func TestJobManagerCloseDuringStart(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"))

	m := NewJobManager(NewDriver(&fakeRecognizer{}), nil)
	m.prepared = m.Close

	_, err := m.Start(defaultOptions(dir, t.TempDir()))
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.Empty(t, m.List())
	m.Wait()
}
