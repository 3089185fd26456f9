package aggregator_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/evalharness/pkg/aggregator"
	"github.com/codeready-toolchain/evalharness/pkg/pipeline"
)

func writeMeta(t *testing.T, root string, runIndex int, service, model, taskPath string, success bool) {
	t.Helper()
	dir := filepath.Join(root, "exp", "run-"+itoa(runIndex), service+"__"+model, taskPath)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	meta := pipeline.RunMeta{
		TaskName:      taskPath,
		Service:       service,
		Model:         model,
		RunIndex:      runIndex,
		Execution:     pipeline.ExecutionMeta{Success: success},
		Verification:  pipeline.VerificationMeta{Success: success},
		ExecutionTime: 1.5,
	}
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644))
}

func itoa(i int) string {
	return string(rune('0' + i))
}

// TestAggregate_MatchesSpecExample verifies the four-run vector [1,0,1,1]
// from the worked example: pass@1=1, pass@4=1, pass^4=0, avg@4=0.75.
func TestAggregate_MatchesSpecExample(t *testing.T) {
	root := t.TempDir()
	results := []bool{true, false, true, true}
	for i, ok := range results {
		writeMeta(t, root, i+1, "github", "claude-x", "github/cat/task", ok)
	}

	summary, err := aggregator.Aggregate(root, "exp", 4)
	require.NoError(t, err)

	detail := summary.DetailedTaskMetrics["github__claude-x/github/cat/task"]
	assert.Equal(t, 1.0, detail.PassAt1)
	assert.Equal(t, 1.0, detail.PassAtK)
	assert.Equal(t, 0.0, detail.PassPowK)
	assert.Equal(t, 0.75, detail.AvgAtK)
	assert.Equal(t, []bool{true, false, true, true}, detail.IndividualResults)
}

func TestAggregate_MissingRunCountsAsZero(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, 1, "github", "claude-x", "github/cat/task", true)
	// run-2 and run-3 never written at all.

	summary, err := aggregator.Aggregate(root, "exp", 3)
	require.NoError(t, err)

	detail := summary.DetailedTaskMetrics["github__claude-x/github/cat/task"]
	assert.Equal(t, []bool{true, false, false}, detail.IndividualResults)
	assert.InDelta(t, 1.0/3.0, detail.AvgAtK, 1e-9)
}

func TestAggregate_OverallIsUnweightedMeanAcrossGroups(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, 1, "github", "claude-x", "github/cat/a", true)
	writeMeta(t, root, 1, "github", "claude-x", "github/cat/b", true)
	writeMeta(t, root, 1, "notion", "claude-x", "notion/cat/a", false)

	summary, err := aggregator.Aggregate(root, "exp", 1)
	require.NoError(t, err)

	// github group mean pass@1 = 1.0, notion group mean pass@1 = 0.0;
	// overall is the unweighted mean of group means, not of raw runs.
	assert.Equal(t, 0.5, summary.OverallMetrics.PassAt1)
	assert.Equal(t, 3, summary.TotalUniqueTasks)
}

func TestWriteSummary_WritesReadableJSON(t *testing.T) {
	root := t.TempDir()
	writeMeta(t, root, 1, "github", "claude-x", "github/cat/task", true)

	summary, err := aggregator.Aggregate(root, "exp", 1)
	require.NoError(t, err)
	require.NoError(t, aggregator.WriteSummary(root, "exp", summary))

	data, err := os.ReadFile(filepath.Join(root, "exp", "k_run_summary.json"))
	require.NoError(t, err)

	var roundTrip aggregator.Summary
	require.NoError(t, json.Unmarshal(data, &roundTrip))
	assert.Equal(t, "exp", roundTrip.ExperimentName)
}
