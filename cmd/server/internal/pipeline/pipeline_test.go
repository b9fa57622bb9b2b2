package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorChain(t *testing.T) {
	cause := errors.New("CUDA out of memory")
	err := fmt.Errorf("train: %w", Collaborator(TRAINING_FAILED, "The training was interrupted due an error", cause))

	pe, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, TRAINING_FAILED, pe.Code)
	assert.Equal(t, KindCollaborator, pe.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, TRAINING_FAILED, CodeOf(err))
	assert.Contains(t, Message(err), "Error summary: CUDA out of memory")
}

func TestSummaryTruncatesCollaboratorCause(t *testing.T) {
	long := strings.Repeat("x", SummaryLimit+100)
	err := Collaborator(TRANSCRIPTION_FAILED, "The data processing was interrupted", errors.New(long))

	summary := err.Summary()
	assert.True(t, strings.HasSuffix(summary, "..."))
	assert.Less(t, len(summary), len(long))
}

func TestPreconditionMessageHasNoCause(t *testing.T) {
	err := Precondition(NO_AUDIO_FILES, "No audio files found!")
	assert.Equal(t, "No audio files found!", Message(err))
	assert.Equal(t, "[NO_AUDIO_FILES] No audio files found!", err.Error())
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
}

func TestGateAdmitsOneStage(t *testing.T) {
	g := NewGate()

	release, err := g.TryEnter("train")
	require.NoError(t, err)

	active, since := g.Active()
	assert.Equal(t, "train", active)
	assert.False(t, since.IsZero())

	_, err = g.TryEnter("dataset")
	require.Error(t, err)
	assert.Equal(t, STAGE_BUSY, CodeOf(err))
	assert.Contains(t, Message(err), "train")

	release()
	release()

	release2, err := g.TryEnter("dataset")
	require.NoError(t, err)
	release2()

	active, _ = g.Active()
	assert.Empty(t, active)
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	p := tr.For("dataset")
	p("transcribing a.wav", 1, 3)
	p("transcribing b.wav", 2, 3)

	s, ok := tr.Get("dataset")
	require.True(t, ok)
	assert.Equal(t, 2, s.Done)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, "transcribing b.wav", s.Step)
	assert.Len(t, tr.All(), 1)

	_, ok = tr.Get("train")
	assert.False(t, ok)
	NopProgress("ignored", 0, 0)
}
