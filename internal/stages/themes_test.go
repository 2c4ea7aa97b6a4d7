package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/workflow"
)

// writeClusterAssignments handcrafts a stage 3 clusters.csv over the given
// analysis paths. Assignments map path index to cluster id; the first member
// of each cluster is marked as its exemplar.
func writeClusterAssignments(t *testing.T, wf *workflow.Config, paths []string, assignments []int) {
	t.Helper()
	dir, err := wf.Dir("step3_clusters")
	require.NoError(t, err)

	seen := make(map[int]bool)
	rows := [][]string{{"path", "filename", "cluster_id", "is_exemplar"}}
	for i, path := range paths {
		id := assignments[i]
		rows = append(rows, []string{
			path,
			filepath.Base(path),
			strconv.Itoa(id),
			strconv.FormatBool(!seen[id]),
		})
		seen[id] = true
	}
	require.NoError(t, writeCSV(filepath.Join(dir, "clusters.csv"), rows))
}

func themeReply(name string) llm.Result {
	return llm.Result{Data: map[string]interface{}{
		"name":        name,
		"description": "Posts united by a shared visual and emotional register.",
		"evidence":    []interface{}{"recurring pastel styling", "ritual vocabulary"},
		"strategy":    "Show up with the same calm staging the community already rewards.",
	}}
}

func TestThemesEnrichesEachCluster(t *testing.T) {
	wf := testWorkflow(t)
	paths := twoTopicCorpus(t, wf)
	writeClusterAssignments(t, wf, paths, []int{0, 0, 0, 1, 1, 1})

	provider := &stubProvider{results: []llm.Result{
		themeReply("Matcha Ritualists"),
		themeReply("Glow Seekers"),
	}}
	stage := &Themes{Provider: provider}

	require.NoError(t, stage.Run(context.Background(), wf, testParams()))
	assert.Equal(t, 2, provider.calls)

	outDir, _ := wf.Dir("step6_themes")

	data, err := os.ReadFile(filepath.Join(outDir, "themes.json"))
	require.NoError(t, err)
	var cards []ThemeCard
	require.NoError(t, json.Unmarshal(data, &cards))
	require.Len(t, cards, 2)

	assert.Equal(t, 0, cards[0].ClusterID)
	assert.Equal(t, "Matcha Ritualists", cards[0].Name)
	assert.Equal(t, 3, cards[0].ItemCount)
	assert.Equal(t, "Glow Seekers", cards[1].Name)

	md, err := os.ReadFile(filepath.Join(outDir, "themes.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "## Cluster 0: Matcha Ritualists")
	assert.Contains(t, string(md), "- recurring pastel styling")
}

func TestThemesMissingClustersIsConfigurationError(t *testing.T) {
	wf := testWorkflow(t)
	twoTopicCorpus(t, wf)

	stage := &Themes{Provider: &stubProvider{}}
	err := stage.Run(context.Background(), wf, testParams())
	require.Error(t, err)

	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrorTypeConfiguration, appErr.Type)
	assert.Contains(t, err.Error(), "run the cluster stage first")
}

func TestThemesAllFailuresIsAnError(t *testing.T) {
	wf := testWorkflow(t)
	paths := twoTopicCorpus(t, wf)
	writeClusterAssignments(t, wf, paths, []int{0, 0, 0, 1, 1, 1})

	provider := &stubProvider{results: []llm.Result{{Err: "Failed to parse JSON"}}}
	stage := &Themes{Provider: provider}

	err := stage.Run(context.Background(), wf, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 theme generations failed")
}
