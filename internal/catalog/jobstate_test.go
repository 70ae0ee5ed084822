package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStateTransitions(t *testing.T) {
	now := time.Unix(1700000000, 0)
	js := NewJobState("job-1", PipelineBatchEnrichment, 20, now)
	assert.Equal(t, StatusPending, js.Status)

	alreadyX, err := js.Transition(StatusRunning, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, alreadyX)
	assert.Equal(t, StatusRunning, js.Status)
	assert.EqualValues(t, 1, js.Version)

	_, err = js.Transition(StatusPending, now.Add(2*time.Second))
	assert.ErrorContains(t, err, "illegal transition")

	alreadyX, err = js.Transition(StatusCompleted, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, alreadyX)
	assert.Equal(t, StatusCompleted, js.Status)
	require.NotNil(t, js.CompletedAt)

	alreadyX, err = js.Transition(StatusCompleted, now.Add(4*time.Second))
	require.NoError(t, err)
	assert.True(t, alreadyX)

	_, err = js.Transition(StatusFailed, now.Add(5*time.Second))
	assert.ErrorContains(t, err, "already in a terminal state")
}

func TestJobStateRecordProgressMonotonic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	js := NewJobState("job-2", PipelineBatchEnrichment, 10, now)
	_, err := js.Transition(StatusRunning, now)
	require.NoError(t, err)

	require.NoError(t, js.RecordProgress(0.4, 4, now.Add(time.Second)))
	assert.Equal(t, 0.4, js.Progress)

	require.NoError(t, js.RecordProgress(0.2, 2, now.Add(2*time.Second)))
	assert.Equal(t, 0.4, js.Progress, "progress must not regress")
	assert.Equal(t, 2, js.ProcessedCount)

	require.NoError(t, js.RecordProgress(1.0, 999, now.Add(3*time.Second)))
	assert.Equal(t, 10, js.ProcessedCount, "processedCount clamps to totalCount")
}

func TestJobStateDueForCheckpoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	js := NewJobState("job-3", PipelineBatchEnrichment, 10, now)
	last := now
	assert.False(t, js.DueForCheckpoint(5, 10*time.Second, last, now))

	for i := 0; i < 5; i++ {
		_ = js.RecordProgress(float64(i)/10, i, now)
	}
	assert.True(t, js.DueForCheckpoint(5, 10*time.Second, last, now))

	js.UpdatesSinceCheckpoint = 0
	assert.True(t, js.DueForCheckpoint(5, 10*time.Second, last, now.Add(11*time.Second)))
}

func TestWorkInvariant(t *testing.T) {
	w := &Work{Title: "Dune", PrimaryProvider: ProviderVolumeCatalog, Contributors: []ProviderID{ProviderVolumeCatalog}}
	assert.True(t, w.Valid())

	w2 := &Work{Title: "", PrimaryProvider: ProviderVolumeCatalog, Contributors: []ProviderID{ProviderVolumeCatalog}}
	assert.False(t, w2.Valid())

	w3 := &Work{Title: "Dune", PrimaryProvider: ProviderOpenBib, Contributors: []ProviderID{ProviderVolumeCatalog}}
	assert.False(t, w3.Valid())
}

func TestEditionInvariant(t *testing.T) {
	e := &Edition{ISBNs: []string{"9780441013593"}, ISBN: "9780441013593", Format: FormatPaperback}
	assert.True(t, e.Valid())

	e2 := &Edition{ISBNs: []string{"9780441013593"}, ISBN: "0000000000", Format: FormatPaperback}
	assert.False(t, e2.Valid())

	e3 := &Edition{Format: ""}
	assert.False(t, e3.Valid())
}
