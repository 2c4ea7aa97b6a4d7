package stages

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhsresearch/pkg/workflow"
)

// twoTopicCorpus writes six analyses split across two obvious topics.
func twoTopicCorpus(t *testing.T, wf *workflow.Config) []string {
	t.Helper()
	return writeAnalyses(t, wf, []string{
		sectioned("matcha green tea powder", "tea ceremony heritage", "none", "flatlay", "ritual calm"),
		sectioned("matcha green tea whisk", "tea ceremony tradition", "none", "flatlay", "ritual calm"),
		sectioned("matcha green tea bowl", "tea ceremony heritage", "none", "flatlay", "ritual focus"),
		sectioned("serum glow skincare bottle", "clinic beauty culture", "none", "selfie", "glow aspiration"),
		sectioned("serum glow skincare dropper", "clinic beauty culture", "none", "selfie", "glow aspiration"),
		sectioned("serum glow skincare texture", "clinic beauty routine", "none", "selfie", "glow confidence"),
	})
}

func TestClusterStage(t *testing.T) {
	wf := testWorkflow(t)
	twoTopicCorpus(t, wf)

	params := testParams()
	params.Config.Pipeline.ClusterKMin = 2
	params.Config.Pipeline.ClusterKMax = 3

	stage := &Cluster{}
	require.NoError(t, stage.Run(context.Background(), wf, params))

	outDir, _ := wf.Dir("step3_clusters")

	f, err := os.Open(filepath.Join(outDir, "clusters.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 7, "header plus one row per document")
	assert.Equal(t, []string{"path", "filename", "cluster_id", "is_exemplar"}, rows[0])

	// The two topics separate: first three docs share a label, last three
	// share the other.
	assert.Equal(t, rows[1][2], rows[2][2])
	assert.Equal(t, rows[1][2], rows[3][2])
	assert.Equal(t, rows[4][2], rows[5][2])
	assert.NotEqual(t, rows[1][2], rows[4][2])

	exemplars := 0
	for _, row := range rows[1:] {
		if row[3] == "true" {
			exemplars++
		}
	}
	assert.Equal(t, 2, exemplars)

	summary, err := os.ReadFile(filepath.Join(outDir, "clusters_summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Top terms:")

	meta, err := os.ReadFile(filepath.Join(outDir, "meta.json"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"k": 2`)
}

func TestClusterTooFewDocuments(t *testing.T) {
	wf := testWorkflow(t)
	writeAnalyses(t, wf, []string{sectioned("a b", "c", "d", "e", "f")})

	stage := &Cluster{}
	err := stage.Run(context.Background(), wf, testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 3 analyses")
}
