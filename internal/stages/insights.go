package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

// sectionSampleSize caps how many documents feed one section's extraction.
const sectionSampleSize = 15

// Insights is stage 5: per-section LLM insight extraction producing a
// pattern codebook.
type Insights struct {
	// Provider overrides the factory-built provider. Set in tests.
	Provider llm.Provider
}

func (i *Insights) Name() string   { return "insights" }
func (i *Insights) Key() string    { return "step5_insights" }
func (i *Insights) Required() bool { return false }
func (i *Insights) Heavy() bool    { return true }

// SectionInsight is one section's extraction result.
type SectionInsight struct {
	Section               string   `json:"section"`
	Patterns              []string `json:"patterns,omitempty"`
	CulturalInsights      []string `json:"cultural_insights,omitempty"`
	StrategicImplications []string `json:"strategic_implications,omitempty"`
	Summary               string   `json:"summary,omitempty"`
	DocCount              int      `json:"doc_count"`
	Error                 string   `json:"error,omitempty"`
	Timestamp             string   `json:"timestamp"`
}

func (i *Insights) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

	provider := i.Provider
	if provider == nil {
		created, err := params.CreateProvider(ctx)
		if err != nil {
			return err
		}
		provider = created
	}

	analysesDir, err := wf.Dir("step2_analyses")
	if err != nil {
		return err
	}
	docs, err := LoadAnalysisCorpus(analysesDir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no analyses found in %s", analysesDir)
	}

	sectionTexts := make(map[string][]string)
	for _, doc := range docs {
		for _, section := range CanonSections {
			if text := doc.Sections[section]; text != "" {
				sectionTexts[section] = append(sectionTexts[section], text)
			}
		}
	}
	if len(sectionTexts) == 0 {
		return fmt.Errorf("analyses in %s carry no recognizable sections", analysesDir)
	}

	outDir, err := wf.Dir("step5_insights")
	if err != nil {
		return err
	}

	var insights []SectionInsight
	var failed int

	for _, section := range CanonSections {
		texts := sectionTexts[section]
		if len(texts) == 0 {
			continue
		}

		log.InfoWithFields("extracting section insights", map[string]interface{}{
			"section":   section,
			"documents": len(texts),
		})

		insight := i.extractSection(ctx, provider, section, texts, cfg.LLM.RetryMaxTokens)
		insights = append(insights, insight)

		if insight.Error != "" {
			failed++
			log.ErrorWithFields("section extraction failed", map[string]interface{}{
				"section": section,
				"error":   insight.Error,
			})
			continue
		}

		mdPath := filepath.Join(outDir, fmt.Sprintf("insights_%s.md",
			strings.ToLower(strings.ReplaceAll(section, " ", "_"))))
		if err := os.WriteFile(mdPath, []byte(renderInsightMarkdown(insight)), 0644); err != nil {
			return err
		}
	}

	if failed == len(insights) {
		return fmt.Errorf("all %d section extractions failed", len(insights))
	}

	if err := writeCodebook(filepath.Join(outDir, "codebook.csv"), insights); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outDir, "insights.json"), insights); err != nil {
		return err
	}

	if params.Synthesize {
		if err := i.synthesizeCodebook(ctx, provider, insights, outDir, cfg.LLM.RetryMaxTokens); err != nil {
			log.WithError(err).Warn("master codebook synthesis failed")
		}
	}

	log.InfoWithFields("insight extraction complete", map[string]interface{}{
		"sections": len(insights) - failed,
		"failed":   failed,
	})
	return nil
}

// extractSection runs one section's texts through the provider, retrying
// once with a larger budget when the reply was empty or unparseable.
func (i *Insights) extractSection(ctx context.Context, provider llm.Provider,
	section string, texts []string, retryMaxTokens int) SectionInsight {
	insight := SectionInsight{
		Section:   section,
		DocCount:  len(texts),
		Timestamp: time.Now().Format(time.RFC3339),
	}

	sample := texts
	if len(sample) > sectionSampleSize {
		sample = sample[:sectionSampleSize]
	}
	var b strings.Builder
	for n, text := range sample {
		fmt.Fprintf(&b, "Document %d: %s\n\n", n+1, snippet(text, 300))
	}

	prompt := fmt.Sprintf(`You are reviewing the %q section from %d image analyses of
social media posts. Extract the recurring insights. Return a JSON object
with keys: "patterns" (array of short recurring pattern statements, most
frequent first), "cultural_insights" (array), "strategic_implications"
(array of implications for a brand entering this space), "summary"
(one paragraph).`, section, len(texts))

	opts := llm.Options{CustomPrompt: prompt}
	result, err := provider.AnalyzeText(ctx, b.String(), opts)
	if err == nil && !result.OK() && retryMaxTokens > 0 {
		opts.MaxTokens = retryMaxTokens
		result, err = provider.AnalyzeText(ctx, b.String(), opts)
	}

	if err != nil {
		insight.Error = err.Error()
		return insight
	}
	if !result.OK() {
		insight.Error = result.Err
		if insight.Error == "" {
			insight.Error = "empty reply after retry"
		}
		return insight
	}

	insight.Patterns = toStringSlice(result.Data["patterns"])
	insight.CulturalInsights = toStringSlice(result.Data["cultural_insights"])
	insight.StrategicImplications = toStringSlice(result.Data["strategic_implications"])
	insight.Summary = asString(result.Data["summary"])
	if len(insight.Patterns) == 0 && insight.Summary == "" {
		insight.Error = "reply carried none of the expected fields"
	}
	return insight
}

func renderInsightMarkdown(insight SectionInsight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s - Insights\n\n", insight.Section)
	fmt.Fprintf(&b, "*Analyzed %d documents*\n\n", insight.DocCount)

	if insight.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", insight.Summary)
	}
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
	writeList("Patterns", insight.Patterns)
	writeList("Cultural Insights", insight.CulturalInsights)
	writeList("Strategic Implications", insight.StrategicImplications)
	return b.String()
}

// writeCodebook flattens the extracted patterns into codebook.csv.
func writeCodebook(path string, insights []SectionInsight) error {
	rows := [][]string{{"section", "pattern_rank", "pattern", "doc_count"}}
	for _, insight := range insights {
		if insight.Error != "" {
			continue
		}
		patterns := insight.Patterns
		if len(patterns) > 10 {
			patterns = patterns[:10]
		}
		for rank, pattern := range patterns {
			rows = append(rows, []string{
				insight.Section,
				strconv.Itoa(rank + 1),
				strings.TrimSpace(pattern),
				strconv.Itoa(insight.DocCount),
			})
		}
	}
	return writeCSV(path, rows)
}

// synthesizeCodebook runs the cross-section synthesis pass.
func (i *Insights) synthesizeCodebook(ctx context.Context, provider llm.Provider,
	insights []SectionInsight, outDir string, retryMaxTokens int) error {
	var b strings.Builder
	for _, insight := range insights {
		if insight.Error != "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", insight.Section,
			strings.Join(insight.Patterns, "\n"))
	}
	if b.Len() == 0 {
		return fmt.Errorf("no successful sections to synthesize")
	}

	prompt := `Below are the extracted insight patterns per analysis section.
Synthesize them into a master codebook. Return a JSON object with keys:
"themes" (array of cross-cutting theme statements), "tensions" (array of
cultural tensions or tradeoffs observed), "recommendations" (array of
strategic recommendations), "summary" (one paragraph).`

	opts := llm.Options{CustomPrompt: prompt}
	result, err := provider.AnalyzeText(ctx, b.String(), opts)
	if err == nil && !result.OK() && retryMaxTokens > 0 {
		opts.MaxTokens = retryMaxTokens
		result, err = provider.AnalyzeText(ctx, b.String(), opts)
	}
	if err != nil {
		return err
	}

	var md strings.Builder
	md.WriteString("# Master Codebook\n\n")
	if result.OK() {
		writeList := func(title, key string) {
			items := toStringSlice(result.Data[key])
			if len(items) == 0 {
				return
			}
			fmt.Fprintf(&md, "## %s\n\n", title)
			for _, item := range items {
				fmt.Fprintf(&md, "- %s\n", item)
			}
			md.WriteString("\n")
		}
		if summary := asString(result.Data["summary"]); summary != "" {
			fmt.Fprintf(&md, "%s\n\n", summary)
		}
		writeList("Themes", "themes")
		writeList("Tensions", "tensions")
		writeList("Recommendations", "recommendations")
	} else {
		md.WriteString(result.Raw)
		md.WriteString("\n")
	}

	return os.WriteFile(filepath.Join(outDir, "master_codebook.md"), []byte(md.String()), 0644)
}
