package stages

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestComparativeWithoutClustersFallsBackToSingleGroup(t *testing.T) {
	wf := testWorkflow(t)
	twoTopicCorpus(t, wf)

	stage := &Comparative{}
	require.NoError(t, stage.Run(context.Background(), wf, testParams()))

	outDir, _ := wf.Dir("step4_comparative")

	sections := readCSV(t, filepath.Join(outDir, "top_terms_per_section.csv"))
	assert.Equal(t, []string{"section", "term", "salience"}, sections[0])
	assert.Greater(t, len(sections), 1)

	counts := readCSV(t, filepath.Join(outDir, "doc_counts_by_group.csv"))
	require.Len(t, counts, 2)
	assert.Equal(t, []string{"all", "6"}, counts[1])

	// Single group: contrast has a header and nothing else.
	contrast := readCSV(t, filepath.Join(outDir, "differential_salience.csv"))
	assert.Len(t, contrast, 1)
}

func TestComparativeUsesClusterGroups(t *testing.T) {
	wf := testWorkflow(t)
	twoTopicCorpus(t, wf)

	params := testParams()
	params.Config.Pipeline.ClusterKMin = 2
	params.Config.Pipeline.ClusterKMax = 2
	require.NoError(t, (&Cluster{}).Run(context.Background(), wf, params))

	stage := &Comparative{}
	require.NoError(t, stage.Run(context.Background(), wf, params))

	outDir, _ := wf.Dir("step4_comparative")

	counts := readCSV(t, filepath.Join(outDir, "doc_counts_by_group.csv"))
	require.Len(t, counts, 3, "header plus two cluster groups")
	assert.Contains(t, counts[1][0], "cluster_")

	contrast := readCSV(t, filepath.Join(outDir, "differential_salience.csv"))
	assert.Greater(t, len(contrast), 1)

	// The matcha cluster's most differential terms should be matcha terms.
	termsByGroup := make(map[string][]string)
	for _, row := range contrast[1:] {
		termsByGroup[row[0]] = append(termsByGroup[row[0]], row[1])
	}
	var foundMatcha, foundSerum bool
	for _, terms := range termsByGroup {
		for _, term := range terms {
			if term == "matcha" {
				foundMatcha = true
			}
			if term == "serum" {
				foundSerum = true
			}
		}
	}
	assert.True(t, foundMatcha, "matcha missing from differential terms")
	assert.True(t, foundSerum, "serum missing from differential terms")
}

func TestComparativeEmptyCorpus(t *testing.T) {
	stage := &Comparative{}
	err := stage.Run(context.Background(), testWorkflow(t), testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no analyses")
}
