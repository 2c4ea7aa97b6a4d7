package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhsresearch/pkg/config"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/logger"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

func testParams() pipeline.Params {
	return pipeline.Params{
		Config: config.DefaultConfig(),
		Logger: logger.NewNopLogger(),
	}
}

func testWorkflow(t *testing.T) *workflow.Config {
	t.Helper()
	wf, err := workflow.New(t.TempDir(), "matcha skincare", "20260115")
	require.NoError(t, err)
	return wf
}

// writeAnalyses persists analysis records into the run's step2 directory.
func writeAnalyses(t *testing.T, wf *workflow.Config, analyses []string) []string {
	t.Helper()
	dir, err := wf.Dir("step2_analyses")
	require.NoError(t, err)

	paths := make([]string, len(analyses))
	for i, text := range analyses {
		record := AnalysisRecord{
			Filename:  fmt.Sprintf("post%d_0.jpg", i+1),
			Analysis:  text,
			Timestamp: "2026-01-15T10:00:00Z",
			Model:     "test-model",
		}
		path := filepath.Join(dir, fmt.Sprintf("analysis_%03d_post%d_0.json", i+1, i+1))
		require.NoError(t, writeJSON(path, record))
		paths[i] = path
	}
	return paths
}

// sectioned builds a five-section analysis from per-section fragments.
func sectioned(visual, cultural, taboo, platform, psych string) string {
	return fmt.Sprintf(`1) VISUAL CODES: %s
2) CULTURAL MEANING: %s
3) TABOO NAVIGATION: %s
4) PLATFORM CONVENTIONS: %s
5) CONSUMER PSYCHOLOGY: %s`, visual, cultural, taboo, platform, psych)
}

func TestSplitSections(t *testing.T) {
	text := `1) VISUAL CODES: pastel palette
soft lighting throughout
2) cultural meaning : tea ceremony references
3) TABOO NAVIGATION: none

trailing noise outside any match`
	sections := SplitSections(text)

	assert.Equal(t, "pastel palette soft lighting throughout", sections["VISUAL CODES"])
	assert.Equal(t, "tea ceremony references", sections["CULTURAL MEANING"])
	assert.Contains(t, sections["TABOO NAVIGATION"], "none")
	assert.NotContains(t, sections, "PLATFORM CONVENTIONS")
}

func TestNormalizeSectionName(t *testing.T) {
	assert.Equal(t, "VISUAL CODES", NormalizeSectionName("visual  codes"))
	assert.Equal(t, "CONSUMER PSYCHOLOGY", NormalizeSectionName(" Consumer Psychology "))
	assert.Equal(t, "SOMETHING ELSE", NormalizeSectionName("something else"))
}

func TestRenderSectionsRoundTrip(t *testing.T) {
	data := map[string]interface{}{
		"visual_codes":         "pastel palette and marble surfaces",
		"cultural_meaning":     "wellness as self-care ritual",
		"taboo_navigation":     "none",
		"platform_conventions": "flatlay product shots",
		"consumer_psychology":  "aspiration toward effortless luxury",
	}

	text := renderSections(data)
	assert.Contains(t, text, "1) VISUAL CODES: pastel palette")

	sections := SplitSections(text)
	for _, section := range CanonSections {
		assert.NotEmpty(t, sections[section], "section %s lost in round trip", section)
	}
}

func TestRenderSectionsFallsBackToJSON(t *testing.T) {
	text := renderSections(map[string]interface{}{"unexpected": "shape"})
	assert.Contains(t, text, "unexpected")
}

func TestLoadAnalysisCorpus(t *testing.T) {
	dir := t.TempDir()

	good := AnalysisRecord{Filename: "a.jpg", Analysis: "1) VISUAL CODES: x", Timestamp: "t", Model: "m"}
	require.NoError(t, writeJSON(filepath.Join(dir, "analysis_001_a.json"), good))

	failed := AnalysisRecord{Filename: "b.jpg", Error: "boom", Timestamp: "t", Model: "m"}
	require.NoError(t, writeJSON(filepath.Join(dir, "analysis_002_b.json"), failed))

	empty := AnalysisRecord{Filename: "c.jpg", Analysis: "   ", Timestamp: "t", Model: "m"}
	require.NoError(t, writeJSON(filepath.Join(dir, "analysis_003_c.json"), empty))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "all_analyses_20260115.json"), []byte("[]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	docs, err := LoadAnalysisCorpus(dir)
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "a.jpg", docs[0].Filename)
	assert.Equal(t, "x", docs[0].Sections["VISUAL CODES"])
}

// stubProvider scripts provider replies for stage tests.
type stubProvider struct {
	results []llm.Result
	err     error
	vision  bool
	calls   int
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) Model() string        { return "stub-model" }
func (s *stubProvider) SupportsVision() bool { return s.vision }
func (s *stubProvider) IsAvailable() bool    { return true }

func (s *stubProvider) next() llm.Result {
	var result llm.Result
	if len(s.results) > 0 {
		result = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	return result
}

func (s *stubProvider) AnalyzeText(ctx context.Context, text string, opts llm.Options) (llm.Result, error) {
	s.calls++
	if s.err != nil {
		return llm.Result{}, s.err
	}
	return s.next(), nil
}

func (s *stubProvider) AnalyzeImage(ctx context.Context, imagePath, text string, opts llm.Options) (llm.Result, error) {
	s.calls++
	if s.err != nil {
		return llm.Result{}, s.err
	}
	return s.next(), nil
}
