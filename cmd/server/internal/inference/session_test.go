package inference

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

type fakeModel struct {
	closed  bool
	cleared int
	gpu     bool
	err     error
	rate    int
	last    SynthesisRequest
}

func (m *fakeModel) Synthesize(ctx context.Context, req SynthesisRequest) ([]float32, int, error) {
	m.last = req
	if m.err != nil {
		return nil, 0, m.err
	}
	rate := m.rate
	if rate == 0 {
		rate = OutputSampleRate
	}
	return make([]float32, OutputSampleRate), rate, nil
}
func (m *fakeModel) ClearCache(ctx context.Context) error { m.cleared++; return nil }
func (m *fakeModel) GPU() bool                            { return m.gpu }
func (m *fakeModel) Close() error                         { m.closed = true; return nil }

type fakeLoader struct {
	models []*fakeModel
	err    error
	loads  int
}

func (l *fakeLoader) Load(ctx context.Context, paths Paths) (Model, error) {
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	m := &fakeModel{gpu: true}
	l.models = append(l.models, m)
	return m, nil
}

func readyPaths(t *testing.T) (Paths, string) {
	t.Helper()
	dir := t.TempDir()
	p := Paths{
		Checkpoint: filepath.Join(dir, "model.pth"),
		Config:     filepath.Join(dir, "config.json"),
		Vocab:      filepath.Join(dir, "vocab.json"),
		Speakers:   filepath.Join(dir, "speakers_xtts.pth"),
	}
	ref := filepath.Join(dir, "reference.wav")
	for _, f := range []string{p.Checkpoint, p.Config, p.Vocab, p.Speakers, ref} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	}
	return p, ref
}

func TestInferBeforeLoad(t *testing.T) {
	s := NewSession(&fakeLoader{}, t.TempDir())
	_, ref := readyPaths(t)

	req := DefaultSynthesisRequest()
	req.Text, req.Reference, req.Language = "hello", ref, "en"
	res, err := s.Infer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, pipeline.MODEL_NOT_LOADED, pipeline.CodeOf(err))
	assert.Equal(t, "You need to run the previous step to load the model !!", res.Message)
	assert.Nil(t, res.AudioPath)
	assert.Nil(t, res.Reference)
	assert.Equal(t, StateUnloaded, s.Status().State)
}

func TestLoadAndInfer(t *testing.T) {
	loader := &fakeLoader{}
	out := t.TempDir()
	s := NewSession(loader, out)
	paths, ref := readyPaths(t)

	msg, err := s.Load(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, "Model Loaded!", msg)
	st := s.Status()
	assert.Equal(t, StateLoaded, st.State)
	assert.True(t, st.GPU)
	assert.Equal(t, paths, *st.Paths)

	req := DefaultSynthesisRequest()
	req.Text, req.Reference, req.Language = "Hallo Welt", ref, "de"
	res, err := s.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Speech generated !", res.Message)
	require.NotNil(t, res.AudioPath)
	assert.Equal(t, ref, *res.Reference)
	assert.Equal(t, 1.0, res.Seconds)
	assert.Equal(t, out, filepath.Dir(*res.AudioPath))
	assert.Equal(t, 0.85, loader.models[0].last.TopP)

	data, err := os.ReadFile(*res.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(OutputSampleRate), binary.LittleEndian.Uint32(data[24:28]))

	s.ClearCache(context.Background())
	assert.Equal(t, 1, loader.models[0].cleared)

	// reload replaces and releases the previous model
	_, err = s.Load(context.Background(), paths)
	require.NoError(t, err)
	assert.True(t, loader.models[0].closed)
	assert.False(t, loader.models[1].closed)

	require.NoError(t, s.Close())
	assert.True(t, loader.models[1].closed)
	assert.Equal(t, StateUnloaded, s.Status().State)
}

func TestLoadValidationKeepsPreviousModel(t *testing.T) {
	loader := &fakeLoader{}
	s := NewSession(loader, t.TempDir())
	paths, _ := readyPaths(t)
	_, err := s.Load(context.Background(), paths)
	require.NoError(t, err)

	missing := paths
	missing.Vocab = ""
	_, err = s.Load(context.Background(), missing)
	require.Error(t, err)
	assert.Contains(t, pipeline.Message(err), "XTTS vocab path")
	assert.Equal(t, StateLoaded, s.Status().State)
	assert.False(t, loader.models[0].closed)
	assert.Equal(t, 1, loader.loads)
}

func TestLoadFailureLeavesSessionUnloaded(t *testing.T) {
	loader := &fakeLoader{}
	s := NewSession(loader, t.TempDir())
	paths, ref := readyPaths(t)
	_, err := s.Load(context.Background(), paths)
	require.NoError(t, err)

	loader.err = errors.New("size mismatch for gpt.text_embedding")
	_, err = s.Load(context.Background(), paths)
	require.Error(t, err)
	assert.Equal(t, pipeline.MODEL_LOAD_FAILED, pipeline.CodeOf(err))
	assert.Equal(t, StateUnloaded, s.Status().State)
	assert.Nil(t, s.Status().Paths)

	req := DefaultSynthesisRequest()
	req.Text, req.Reference = "hi", ref
	_, err = s.Infer(context.Background(), req)
	assert.Equal(t, pipeline.MODEL_NOT_LOADED, pipeline.CodeOf(err))
}

func TestInferFailures(t *testing.T) {
	loader := &fakeLoader{}
	s := NewSession(loader, t.TempDir())
	paths, ref := readyPaths(t)
	_, err := s.Load(context.Background(), paths)
	require.NoError(t, err)

	req := DefaultSynthesisRequest()
	req.Text = "hello"
	res, err := s.Infer(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, pipeline.MODEL_NOT_LOADED, pipeline.CodeOf(err), "empty reference path on a loaded model")
	assert.Equal(t, "You need to run the previous step to load the model !!", res.Message)
	assert.Nil(t, res.AudioPath)
	assert.Nil(t, res.Reference)
	assert.Equal(t, StateLoaded, s.Status().State)

	req.Text = ""
	req.Reference = ref
	_, err = s.Infer(context.Background(), req)
	assert.Equal(t, pipeline.INVALID_REQUEST, pipeline.CodeOf(err))

	req.Text = "hello"
	req.Reference = ref + ".missing"
	_, err = s.Infer(context.Background(), req)
	assert.Equal(t, pipeline.INVALID_REQUEST, pipeline.CodeOf(err))

	loader.models[0].rate = 22050
	req.Reference = ref
	res, err = s.Infer(context.Background(), req)
	assert.Equal(t, pipeline.INFERENCE_FAILED, pipeline.CodeOf(err))
	assert.Contains(t, res.Message, "22050 Hz")
	assert.Nil(t, res.AudioPath)
	entries, err := os.ReadDir(s.outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no wav written at a foreign rate")

	loader.models[0].rate = 0
	loader.models[0].err = errors.New("CUDA out of memory")
	res, err = s.Infer(context.Background(), req)
	assert.Equal(t, pipeline.INFERENCE_FAILED, pipeline.CodeOf(err))
	assert.Contains(t, res.Message, "CUDA out of memory")
	assert.Nil(t, res.AudioPath)
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	require.NoError(t, WriteWAV(path, []float32{0, 1, -1, 2}, OutputSampleRate))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 44+8)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(36+8), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(data[40:44]))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[46:48])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(data[48:50])))
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(data[50:52])), "clamped")
	assert.Equal(t, 0.5, Duration(12000, OutputSampleRate))
}
