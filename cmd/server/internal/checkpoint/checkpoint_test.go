package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
)

func TestPlanPrune(t *testing.T) {
	plan := PlanPrune(&Manifest{
		Sections:  []string{"config", "model", "optimizer", "step"},
		ModelKeys: []string{"xtts.gpt.layer.0", "xtts.dvae.encoder", "dvae.codebook", "xtts.hifigan"},
	})
	assert.Equal(t, []string{"optimizer"}, plan.DropSections)
	assert.Equal(t, []string{"dvae.codebook", "xtts.dvae.encoder"}, plan.DropModelKeys)

	assert.True(t, PlanPrune(&Manifest{Sections: []string{"model"}, ModelKeys: []string{"gpt"}}).Empty())
}

func TestJSONToolRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "unoptimize_model.pth")
	dst := filepath.Join(dir, "model.pth")
	require.NoError(t, os.WriteFile(src, []byte(`{
		"model": {"xtts.gpt.w": [1,2], "xtts.dvae.w": [3]},
		"optimizer": {"state": {}},
		"config": {"epochs": 6}
	}`), 0644))

	var tool JSONTool
	m, err := tool.Inspect(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"config", "model", "optimizer"}, m.Sections)
	assert.Equal(t, []string{"xtts.dvae.w", "xtts.gpt.w"}, m.ModelKeys)
	assert.Positive(t, m.SizeBytes)

	require.NoError(t, tool.Prune(context.Background(), src, dst, PlanPrune(m)))

	var out map[string]map[string]any
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.NotContains(t, out, "optimizer")
	assert.Contains(t, out, "config")
	assert.Equal(t, []any{1.0, 2.0}, out["model"]["xtts.gpt.w"])
	assert.NotContains(t, out["model"], "xtts.dvae.w")

	_, err = tool.Inspect(context.Background(), filepath.Join(dir, "missing.pth"))
	assert.Error(t, err)
}

func TestExecTool(t *testing.T) {
	exec := &dependency.FakeExecutor{
		Handler: func(ctx context.Context, req dependency.CommandRequest) (dependency.CommandResponse, error) {
			switch req.Args[0] {
			case "inspect":
				return dependency.CommandResponse{Success: true, Stdout: `{"sections":["model","optimizer"],"model_keys":["a.dvae"]}`}, nil
			case "prune":
				data, err := os.ReadFile(req.Args[4])
				require.NoError(t, err)
				var plan PrunePlan
				require.NoError(t, json.Unmarshal(data, &plan))
				assert.Equal(t, []string{"a.dvae"}, plan.DropModelKeys)
				return dependency.CommandResponse{Success: true}, nil
			}
			return dependency.CommandResponse{}, errors.New("unexpected")
		},
	}
	tool := NewExecTool(exec)

	m, err := tool.Inspect(context.Background(), "/ready/unoptimize_model.pth")
	require.NoError(t, err)
	assert.Equal(t, []string{"model", "optimizer"}, m.Sections)

	dst := filepath.Join(t.TempDir(), "model.pth")
	require.NoError(t, tool.Prune(context.Background(), "/ready/unoptimize_model.pth", dst, PlanPrune(m)))
	assert.NoFileExists(t, dst+".plan.json")
	assert.Equal(t, []string{"checkpoint", "checkpoint"}, exec.Commands())

	failing := NewExecTool(&dependency.FakeExecutor{
		ResponseToReturn: dependency.CommandResponse{Stderr: "KeyError: 'model'"},
		ErrorToReturn:    errors.New("checkpoint exited with code 1"),
	})
	_, err = failing.Inspect(context.Background(), "/x.pth")
	assert.ErrorContains(t, err, "KeyError")
}
