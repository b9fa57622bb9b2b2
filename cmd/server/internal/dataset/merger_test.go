package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

// seedDataset writes a minimal dataset whose clips contain the given bytes.
func seedDataset(t *testing.T, ws *layout.Workspace, name, lang string, train, eval map[string]string, texts map[string]string) {
	t.Helper()
	dir := ws.DatasetDir(name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, layout.WavsDir), 0755))

	rowsOf := func(clips map[string]string) []Row {
		var rows []Row
		for clipName, content := range clips {
			require.NoError(t, os.WriteFile(filepath.Join(dir, layout.WavsDir, clipName), []byte(content), 0644))
			rows = append(rows, Row{AudioFile: layout.WavsDir + "/" + clipName, Text: texts[clipName]})
		}
		return rows
	}
	require.NoError(t, WriteManifest(filepath.Join(dir, layout.TrainManifest), rowsOf(train)))
	require.NoError(t, WriteManifest(filepath.Join(dir, layout.EvalManifest), rowsOf(eval)))
	if lang != "" {
		_, err := WriteLanguage(dir, lang)
		require.NoError(t, err)
	}
	require.NoError(t, SaveInfo(dir, Info{Name: name, Language: lang, TotalSeconds: 130}))
}

func newMergeWorkspace(t *testing.T) *layout.Workspace {
	t.Helper()
	root := t.TempDir()
	ws := layout.NewWorkspace(filepath.Join(root, "datasets"), filepath.Join(root, "base_models"))
	seedDataset(t, ws, "alice", "en",
		map[string]string{"a_00000000.wav": "AAA", "a_00000001.wav": "SHARED"},
		map[string]string{"a_00000002.wav": "AAC"},
		map[string]string{"a_00000000.wav": "hello world", "a_00000001.wav": "the quick brown fox jumps", "a_00000002.wav": "eval line"})
	seedDataset(t, ws, "bob", "en",
		map[string]string{"b_00000000.wav": "BBB", "b_00000001.wav": "SHARED"},
		map[string]string{"b_00000002.wav": "BBC"},
		map[string]string{"b_00000000.wav": "the quick brown fox jumps!", "b_00000001.wav": "dup", "b_00000002.wav": "other eval"})
	seedDataset(t, ws, "carla", "de",
		map[string]string{"c_00000000.wav": "CCC"},
		map[string]string{"c_00000001.wav": "CCD"},
		map[string]string{"c_00000000.wav": "guten tag", "c_00000001.wav": "auf wiedersehen"})
	return ws
}

func TestMergeCombinesAndDeduplicates(t *testing.T) {
	ws := newMergeWorkspace(t)

	res, err := NewMerger(ws).Merge(context.Background(), MergeRequest{First: "alice", Second: "bob", Destination: "both"})
	require.NoError(t, err)

	assert.Equal(t, ws.DatasetDir("both"), res.Dir)
	assert.Equal(t, 1, res.Info.DroppedDuplicates)
	assert.Equal(t, 3, res.Info.TrainRows)
	assert.Equal(t, 2, res.Info.EvalRows)
	assert.Equal(t, 260.0, res.Info.TotalSeconds)
	assert.Equal(t, []string{"alice", "bob"}, res.Info.MergedFrom)
	assert.GreaterOrEqual(t, res.Info.NearDuplicates, 1)

	train, err := ReadManifest(filepath.Join(res.Dir, layout.TrainManifest))
	require.NoError(t, err)
	for _, row := range train {
		assert.FileExists(t, filepath.Join(res.Dir, filepath.FromSlash(row.AudioFile)))
		assert.NotEqual(t, "wavs/ds2_b_00000001.wav", row.AudioFile)
	}
	assert.FileExists(t, filepath.Join(res.Dir, layout.WavsDir, "ds1_a_00000001.wav"))
	assert.FileExists(t, filepath.Join(res.Dir, layout.WavsDir, "ds2_b_00000002.wav"))

	lang, _, err := ReadLanguage(res.Dir)
	require.NoError(t, err)
	assert.Equal(t, "en", lang)
	assert.NoDirExists(t, res.Dir+".partial")

	// sources are untouched
	assert.FileExists(t, filepath.Join(ws.DatasetDir("bob"), layout.WavsDir, "b_00000001.wav"))
}

func TestMergeValidation(t *testing.T) {
	ws := newMergeWorkspace(t)
	seedOutside(t, ws)
	m := NewMerger(ws)

	tests := []struct {
		name string
		req  MergeRequest
		code pipeline.ErrorCode
		msg  string
	}{
		{"first outside datasets", MergeRequest{First: "../outside", Second: "bob", Destination: "x"}, pipeline.DATASET_NOT_FOUND, "Error: Dataset 1 not found"},
		{"second outside datasets", MergeRequest{First: "alice", Second: "../outside", Destination: "x"}, pipeline.DATASET_NOT_FOUND, "Error: Dataset 2 not found"},
		{"first missing", MergeRequest{First: "nobody", Second: "bob", Destination: "x"}, pipeline.DATASET_NOT_FOUND, "Error: Dataset 1 not found"},
		{"second missing", MergeRequest{First: "alice", Second: "", Destination: "x"}, pipeline.DATASET_NOT_FOUND, "Error: Dataset 2 not found"},
		{"same dataset", MergeRequest{First: "alice", Second: "alice", Destination: "x"}, pipeline.INVALID_REQUEST, "Error: Datasets must be different"},
		{"no name", MergeRequest{First: "alice", Second: "bob"}, pipeline.INVALID_REQUEST, "Enter name of new dataset"},
		{"bad name", MergeRequest{First: "alice", Second: "bob", Destination: "../up"}, pipeline.INVALID_REQUEST, "Error: Invalid dataset name ../up"},
		{"exists", MergeRequest{First: "alice", Second: "bob", Destination: "carla"}, pipeline.DATASET_EXISTS, "Error: Dataset carla already exists"},
		{"language mismatch", MergeRequest{First: "alice", Second: "carla", Destination: "mixed"}, pipeline.LANGUAGE_MISMATCH, "different languages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Merge(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, pipeline.CodeOf(err))
			assert.Contains(t, pipeline.Message(err), tt.msg)
		})
	}
	assert.NoDirExists(t, ws.DatasetDir("mixed"))
	assert.NoDirExists(t, ws.DatasetDir("x"))
}

// seedOutside creates a complete dataset next to datasets/, reachable only through "../outside".
func seedOutside(t *testing.T, ws *layout.Workspace) {
	t.Helper()
	seedDataset(t, ws, "../outside", "en",
		map[string]string{"o_00000000.wav": "OOO"},
		map[string]string{"o_00000001.wav": "OOP"},
		map[string]string{"o_00000000.wav": "secret one", "o_00000001.wav": "secret two"})
	require.NoError(t, SaveInfo(ws.DatasetDir("../outside"), Info{Language: "en"}))
}

func TestMergeLanguageOverride(t *testing.T) {
	ws := newMergeWorkspace(t)

	res, err := NewMerger(ws).Merge(context.Background(), MergeRequest{First: "alice", Second: "carla", Destination: "mixed", Language: "DE"})
	require.NoError(t, err)
	assert.Equal(t, "de", res.Info.Language)
	assert.Equal(t, 0, res.Info.DroppedDuplicates)
}

func TestMergeSourceWithoutManifestLeavesNoStaging(t *testing.T) {
	ws := newMergeWorkspace(t)
	require.NoError(t, os.Remove(filepath.Join(ws.DatasetDir("bob"), layout.EvalManifest)))

	_, err := NewMerger(ws).Merge(context.Background(), MergeRequest{First: "alice", Second: "bob", Destination: "broken"})
	require.Error(t, err)
	assert.NoDirExists(t, ws.DatasetDir("broken"))
	assert.NoDirExists(t, ws.DatasetDir("broken")+".partial")
}

func TestCatalog(t *testing.T) {
	ws := newMergeWorkspace(t)
	require.NoError(t, os.MkdirAll(ws.DatasetDir("zed.partial"), 0755))
	require.NoError(t, os.MkdirAll(ws.DatasetDir(".hidden"), 0755))

	c := NewCatalog(ws)
	assert.Equal(t, []string{"alice", "bob", "carla"}, c.List())

	info, err := c.Info("carla")
	require.NoError(t, err)
	assert.Equal(t, "de", info.Language)

	_, err = c.Info("ghost")
	assert.Equal(t, pipeline.DATASET_NOT_FOUND, pipeline.CodeOf(err))

	seedOutside(t, ws)
	_, err = c.Info("../outside")
	assert.Equal(t, pipeline.DATASET_NOT_FOUND, pipeline.CodeOf(err))
	_, err = c.Info("")
	assert.Equal(t, pipeline.DATASET_NOT_FOUND, pipeline.CodeOf(err))
	assert.NotContains(t, c.List(), "../outside")
}
