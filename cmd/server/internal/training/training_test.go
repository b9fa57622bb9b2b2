package training

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

type fakeFetcher struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (f *fakeFetcher) Download(ctx context.Context, repoID, revision, file, dst string) error {
	f.mu.Lock()
	f.files = append(f.files, revision+"/"+file)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(repoID+"@"+revision+":"+file), 0644)
}

// fakeTrainer drops a best model into run/ and records the job.
type fakeTrainer struct {
	jobs   []Job
	err    error
	output TrainOutput
}

func (t *fakeTrainer) Train(ctx context.Context, job Job, progress pipeline.ProgressFunc) (*TrainOutput, error) {
	t.jobs = append(t.jobs, job)
	if t.err != nil {
		return nil, t.err
	}
	dir := filepath.Join(job.RunDir, "GPT_XTTS_FT-run")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	old := filepath.Join(dir, "best_model_10.pth")
	if err := os.WriteFile(old, []byte("old"), 0644); err != nil {
		return nil, err
	}
	past := time.Now().Add(-time.Hour)
	os.Chtimes(old, past, past)
	if err := os.WriteFile(filepath.Join(dir, "best_model_20.pth"), []byte("best"), 0644); err != nil {
		return nil, err
	}
	progress("training epoch", job.NumEpochs, job.NumEpochs)
	out := t.output
	return &out, nil
}

type env struct {
	root    string
	ws      *layout.Workspace
	out     layout.Output
	fetcher *fakeFetcher
	trainer *fakeTrainer
	orch    *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:    root,
		ws:      layout.NewWorkspace(filepath.Join(root, "datasets"), filepath.Join(root, "base_models")),
		out:     layout.NewOutput(filepath.Join(root, "finetune_models")),
		fetcher: &fakeFetcher{},
		trainer: &fakeTrainer{},
	}
	e.orch = NewOrchestrator(e.ws, NewBaseModels(e.ws, e.fetcher, "coqui/XTTS-v2"), e.trainer, Options{})
	return e
}

// seedNamedDataset creates datasets/<name> with two rows and lang.txt.
func (e *env) seedNamedDataset(t *testing.T, name, lang string) {
	t.Helper()
	dir := e.ws.DatasetDir(name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, layout.WavsDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, layout.WavsDir, "a_00000000.wav"), []byte("clip-a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, layout.WavsDir, "a_00000001.wav"), []byte("clip-b"), 0644))
	require.NoError(t, dataset.WriteManifest(filepath.Join(dir, layout.TrainManifest), []dataset.Row{{AudioFile: "wavs/a_00000000.wav", Text: "one"}}))
	require.NoError(t, dataset.WriteManifest(filepath.Join(dir, layout.EvalManifest), []dataset.Row{{AudioFile: "wavs/a_00000001.wav", Text: "two"}}))
	_, err := dataset.WriteLanguage(dir, lang)
	require.NoError(t, err)
}

func TestTrainStagesReadyDir(t *testing.T) {
	e := newEnv(t)
	e.seedNamedDataset(t, "alice", "de")
	require.NoError(t, os.MkdirAll(filepath.Join(e.out.RunDir(), "stale"), 0755))

	var steps []string
	res, err := e.orch.Train(context.Background(), Request{
		Version: "v2.0.3", Language: "en", DatasetName: "alice",
		NumEpochs: 6, BatchSize: 2, GradAccum: 1, MaxAudioLength: 11, OutPath: e.out.Root,
	}, func(step string, done, total int) { steps = append(steps, step) })
	require.NoError(t, err)

	assert.Equal(t, "Model training done!", res.Message)
	assert.Equal(t, "de", res.Language, "dataset lang.txt wins over the request")
	require.Len(t, e.trainer.jobs, 1)
	job := e.trainer.jobs[0]
	assert.Equal(t, "de", job.Language)
	assert.Equal(t, 11*22050, job.MaxAudioLength)
	assert.Equal(t, e.out.DatasetFile(layout.TrainManifest), job.TrainManifest)
	assert.Equal(t, e.ws.XTTSModelDir("v2.0.3"), job.BaseModelDir)
	assert.Len(t, e.fetcher.files, len(XTTSFiles))
	assert.NoDirExists(t, filepath.Join(e.out.RunDir(), "stale"))

	best, err := os.ReadFile(res.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, "best", string(best))
	ref, err := os.ReadFile(res.Reference)
	require.NoError(t, err)
	assert.Equal(t, "clip-a", string(ref))
	for _, f := range []string{layout.ConfigFile, layout.VocabFile, layout.SpeakersFile} {
		assert.FileExists(t, e.out.ReadyFile(f))
	}
	assert.NoDirExists(t, e.out.ReadyStagingDir())
	assert.Contains(t, steps, "training epoch")
}

func TestTrainFailureLeavesReadyUntouched(t *testing.T) {
	e := newEnv(t)
	e.seedNamedDataset(t, "alice", "en")
	require.NoError(t, os.MkdirAll(e.out.ReadyDir(), 0755))
	require.NoError(t, os.WriteFile(e.out.ReadyFile(layout.OptimizedModel), []byte("previous"), 0644))
	e.trainer.err = errors.New("CUDA error: out of memory")

	_, err := e.orch.Train(context.Background(), Request{
		Version: "main", Language: "en", DatasetName: "alice", NumEpochs: 1, OutPath: e.out.Root,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, pipeline.TRAINING_FAILED, pipeline.CodeOf(err))
	assert.Contains(t, pipeline.Message(err), "Error summary: CUDA error: out of memory")

	data, err := os.ReadFile(e.out.ReadyFile(layout.OptimizedModel))
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	assert.NoFileExists(t, e.out.ReadyFile(layout.UnoptimizedModel))
}

func TestTrainPreconditions(t *testing.T) {
	e := newEnv(t)

	_, err := e.orch.Train(context.Background(), Request{Version: "main", Language: "en", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.INVALID_REQUEST, pipeline.CodeOf(err))
	assert.Contains(t, pipeline.Message(err), "Train CSV")

	_, err = e.orch.Train(context.Background(), Request{Version: "main", Language: "en", DatasetName: "ghost", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.DATASET_NOT_FOUND, pipeline.CodeOf(err))

	e.seedNamedDataset(t, "../outside", "en")
	_, err = e.orch.Train(context.Background(), Request{Version: "main", Language: "en", DatasetName: "../outside", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.DATASET_NOT_FOUND, pipeline.CodeOf(err))
	assert.NoDirExists(t, e.out.DatasetDir(), "nothing outside datasets/ is staged")

	e.seedNamedDataset(t, "alice", "en")
	_, err = e.orch.Train(context.Background(), Request{Version: "my-local", Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.BASE_MODEL_MISSING, pipeline.CodeOf(err))

	e.fetcher.err = errors.New("connection reset")
	_, err = e.orch.Train(context.Background(), Request{Version: "main", Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.HUB_FAILED, pipeline.CodeOf(err))

	huge := NewOrchestrator(e.ws, NewBaseModels(e.ws, e.fetcher, "coqui/XTTS-v2"), e.trainer, Options{MinFreeBytes: 1 << 62})
	_, err = huge.Train(context.Background(), Request{Version: "main", Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	assert.Equal(t, pipeline.DISK_FULL, pipeline.CodeOf(err))

	assert.Empty(t, e.trainer.jobs)
}

func TestTrainDVAESelection(t *testing.T) {
	e := newEnv(t)
	e.seedNamedDataset(t, "alice", "en")

	_, err := e.orch.Train(context.Background(), Request{Version: "main", DVAEVersion: DVAETrainFromDataset, Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	require.NoError(t, err)
	assert.True(t, e.trainer.jobs[0].TrainDVAE)
	assert.Empty(t, e.trainer.jobs[0].DVAEDir)

	_, err = e.orch.Train(context.Background(), Request{Version: "main", DVAEVersion: "v2.0.2", Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	require.NoError(t, err)
	assert.Equal(t, e.ws.DVAEModelDir("v2.0.2"), e.trainer.jobs[1].DVAEDir)
	assert.FileExists(t, filepath.Join(e.ws.DVAEModelDir("v2.0.2"), layout.DVAECheckpointFile))
}

func TestTrainUsesTrainerReportedArtifacts(t *testing.T) {
	e := newEnv(t)
	e.seedNamedDataset(t, "alice", "en")
	explicit := filepath.Join(e.root, "picked.pth")
	ref := filepath.Join(e.root, "ref.wav")
	require.NoError(t, os.WriteFile(explicit, []byte("picked"), 0644))
	require.NoError(t, os.WriteFile(ref, []byte("ref"), 0644))
	e.trainer.output = TrainOutput{BestModel: explicit, SpeakerReference: ref}

	res, err := e.orch.Train(context.Background(), Request{Version: "main", Language: "en", DatasetName: "alice", OutPath: e.out.Root}, nil)
	require.NoError(t, err)
	data, _ := os.ReadFile(res.Checkpoint)
	assert.Equal(t, "picked", string(data))
	data, _ = os.ReadFile(res.Reference)
	assert.Equal(t, "ref", string(data))
}

func TestExecTrainer(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run")
	exec := &dependency.FakeExecutor{
		Handler: func(ctx context.Context, req dependency.CommandRequest) (dependency.CommandResponse, error) {
			var job Job
			data, err := os.ReadFile(req.Args[1])
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, &job))
			assert.Equal(t, "fr", job.Language)

			req.OnOutput(" > EPOCH: 2/6")
			req.OnOutput("loss: 0.31")
			out, _ := json.Marshal(TrainOutput{BestModel: "/x/best_model.pth", SpeakerReference: "/x/ref.wav"})
			require.NoError(t, os.WriteFile(req.Args[3], out, 0644))
			return dependency.CommandResponse{Success: true}, nil
		},
	}

	var last [2]int
	out, err := NewExecTrainer(exec, 0).Train(context.Background(), Job{Language: "fr", RunDir: runDir},
		func(step string, done, total int) { last = [2]int{done, total} })
	require.NoError(t, err)
	assert.Equal(t, "/x/best_model.pth", out.BestModel)
	assert.Equal(t, [2]int{2, 6}, last)
	assert.Equal(t, []string{"trainer"}, exec.Commands())
	assert.Equal(t, trainerStdoutLimit, exec.Executed()[0].StdoutLimit)
}

func TestExecTrainerFailureCarriesStderrTail(t *testing.T) {
	exec := &dependency.FakeExecutor{
		ResponseToReturn: dependency.CommandResponse{ExitCode: 1, Stderr: "Traceback...\nRuntimeError: boom"},
		ErrorToReturn:    errors.New("trainer exited with code 1"),
	}
	_, err := NewExecTrainer(exec, 0).Train(context.Background(), Job{RunDir: filepath.Join(t.TempDir(), "run")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RuntimeError: boom")
}

func TestVersionCatalogs(t *testing.T) {
	e := newEnv(t)
	models := NewBaseModels(e.ws, nil, "coqui/XTTS-v2")
	assert.Equal(t, DefaultModels, models.XTTSVersions())

	require.NoError(t, os.MkdirAll(filepath.Join(e.ws.XTTSRoot(), "custom"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(e.ws.XTTSRoot(), "main"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(e.ws.DVAERoot(), "mydvae"), 0755))
	assert.Equal(t, append(append([]string{}, DefaultModels...), "custom"), models.XTTSVersions())

	dvae := models.DVAEVersions()
	assert.Equal(t, DVAETrainFromDataset, dvae[0])
	assert.Equal(t, "mydvae", dvae[len(dvae)-1])

	_, err := models.EnsureXTTS(context.Background(), "main")
	assert.Equal(t, pipeline.BASE_MODEL_MISSING, pipeline.CodeOf(err), "no fetcher configured")
}

func TestParamLoaders(t *testing.T) {
	e := newEnv(t)

	_, err := LoadTrainingParams(e.out.Root)
	assert.Equal(t, "The output folder does not exist!", pipeline.Message(err))
	_, err = LoadInferenceParams(e.out.Root)
	assert.Equal(t, "Params for TTS not found", pipeline.Message(err))

	require.NoError(t, os.MkdirAll(e.out.DatasetDir(), 0755))
	_, err = dataset.WriteLanguage(e.out.DatasetDir(), "it")
	require.NoError(t, err)
	tp, err := LoadTrainingParams(e.out.Root)
	require.NoError(t, err)
	assert.Equal(t, "The data has been updated", tp.Message)
	assert.Equal(t, "it", tp.Language)
	assert.Equal(t, e.out.DatasetFile(layout.TrainManifest), tp.TrainManifest)

	require.NoError(t, os.MkdirAll(e.out.ReadyDir(), 0755))
	require.NoError(t, os.WriteFile(e.out.ReadyFile(layout.UnoptimizedModel), nil, 0644))
	ip, err := LoadInferenceParams(e.out.Root)
	require.NoError(t, err)
	assert.False(t, ip.Optimized)
	assert.Equal(t, e.out.ReadyFile(layout.UnoptimizedModel), ip.Checkpoint)

	require.NoError(t, os.WriteFile(e.out.ReadyFile(layout.OptimizedModel), nil, 0644))
	ip, err = LoadInferenceParams(e.out.Root)
	require.NoError(t, err)
	assert.True(t, ip.Optimized)
	assert.Equal(t, e.out.ReadyFile(layout.OptimizedModel), ip.Checkpoint)
}
