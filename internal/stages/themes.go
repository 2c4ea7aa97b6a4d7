package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/llm"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

// Themes is stage 6: turn each cluster into a named theme card via the
// language model.
type Themes struct {
	// Provider overrides the factory-built provider. Set in tests.
	Provider llm.Provider
}

func (t *Themes) Name() string   { return "themes" }
func (t *Themes) Key() string    { return "step6_themes" }
func (t *Themes) Required() bool { return false }
func (t *Themes) Heavy() bool    { return true }

// ThemeCard is one enriched cluster theme.
type ThemeCard struct {
	ClusterID   int      `json:"cluster_id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
	ItemCount   int      `json:"item_count"`
	Error       string   `json:"error,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// clusterGroup gathers one cluster's member analyses.
type clusterGroup struct {
	id       int
	analyses []AnalysisDoc
	exemplar *AnalysisDoc
}

func (t *Themes) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

	provider := t.Provider
	if provider == nil {
		created, err := params.CreateProvider(ctx)
		if err != nil {
			return err
		}
		provider = created
	}

	groups, err := loadClusterGroups(wf)
	if err != nil {
		return err
	}

	outDir, err := wf.Dir("step6_themes")
	if err != nil {
		return err
	}

	var cards []ThemeCard
	var failed int

	for _, group := range groups {
		log.InfoWithFields("generating theme", map[string]interface{}{
			"cluster": group.id,
			"items":   len(group.analyses),
		})

		card := t.enrichCluster(ctx, provider, group, cfg.LLM.RetryMaxTokens)
		cards = append(cards, card)
		if card.Error != "" {
			failed++
			log.ErrorWithFields("theme generation failed", map[string]interface{}{
				"cluster": group.id,
				"error":   card.Error,
			})
		}
	}

	if failed == len(cards) {
		return fmt.Errorf("all %d theme generations failed", len(cards))
	}

	if err := writeJSON(filepath.Join(outDir, "themes.json"), cards); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "themes.md"),
		[]byte(renderThemesMarkdown(cards)), 0644); err != nil {
		return err
	}

	log.InfoWithFields("theme enrichment complete", map[string]interface{}{
		"themes": len(cards) - failed,
		"failed": failed,
	})
	return nil
}

// loadClusterGroups joins the stage 3 assignments with the stage 2 corpus.
func loadClusterGroups(wf *workflow.Config) ([]clusterGroup, error) {
	clustersDir, err := wf.Dir("step3_clusters")
	if err != nil {
		return nil, err
	}
	csvPath := filepath.Join(clustersDir, "clusters.csv")

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"cluster assignments not found at %s, run the cluster stage first", csvPath)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) < 2 {
		return nil, fmt.Errorf("malformed cluster assignments in %s", csvPath)
	}

	analysesDir, err := wf.Dir("step2_analyses")
	if err != nil {
		return nil, err
	}
	docs, err := LoadAnalysisCorpus(analysesDir)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]AnalysisDoc, len(docs))
	for _, doc := range docs {
		byPath[doc.Path] = doc
	}

	grouped := make(map[int]*clusterGroup)
	for _, row := range rows[1:] {
		if len(row) < 4 {
			continue
		}
		id, err := strconv.Atoi(row[2])
		if err != nil {
			continue
		}
		doc, ok := byPath[row[0]]
		if !ok {
			continue
		}

		group, ok := grouped[id]
		if !ok {
			group = &clusterGroup{id: id}
			grouped[id] = group
		}
		group.analyses = append(group.analyses, doc)
		if isExemplar, _ := strconv.ParseBool(row[3]); isExemplar && group.exemplar == nil {
			exemplar := doc
			group.exemplar = &exemplar
		}
	}
	if len(grouped) == 0 {
		return nil, fmt.Errorf("cluster assignments in %s matched no analyses", csvPath)
	}

	ids := make([]int, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	groups := make([]clusterGroup, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, *grouped[id])
	}
	return groups, nil
}

// enrichCluster generates one theme card, retrying once with a larger
// token budget when the reply was empty or unparseable.
func (t *Themes) enrichCluster(ctx context.Context, provider llm.Provider,
	group clusterGroup, retryMaxTokens int) ThemeCard {
	card := ThemeCard{
		ClusterID: group.id,
		ItemCount: len(group.analyses),
		Timestamp: time.Now().Format(time.RFC3339),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cluster %d (n=%d items)\n\n", group.id, len(group.analyses))
	if group.exemplar != nil {
		fmt.Fprintf(&b, "EXEMPLAR ANALYSIS:\n%s\n\n", snippet(group.exemplar.Analysis, 800))
	}
	b.WriteString("SAMPLE ANALYSES FROM THIS CLUSTER:\n")
	sample := group.analyses
	if len(sample) > 7 {
		sample = sample[:7]
	}
	for _, doc := range sample {
		fmt.Fprintf(&b, "- %s\n", snippet(doc.Analysis, 200))
	}

	prompt := `You are naming a content theme found by clustering social media image
analyses. Based on the cluster content, return a JSON object with keys:
"name" (a short evocative theme name), "description" (2-3 sentences on
what unites this cluster), "evidence" (array of concrete signals from the
analyses that support the theme), "strategy" (one paragraph of advice for
a brand wanting to participate in this theme).`

	opts := llm.Options{CustomPrompt: prompt}
	result, err := provider.AnalyzeText(ctx, b.String(), opts)
	if err == nil && !result.OK() && retryMaxTokens > 0 {
		opts.MaxTokens = retryMaxTokens
		result, err = provider.AnalyzeText(ctx, b.String(), opts)
	}

	if err != nil {
		card.Error = err.Error()
		return card
	}
	if !result.OK() {
		card.Error = result.Err
		if card.Error == "" {
			card.Error = "empty reply after retry"
		}
		return card
	}

	card.Name = asString(result.Data["name"])
	card.Description = asString(result.Data["description"])
	card.Evidence = toStringSlice(result.Data["evidence"])
	card.Strategy = asString(result.Data["strategy"])
	if card.Name == "" && card.Description == "" {
		card.Error = "reply carried none of the expected fields"
	}
	return card
}

func renderThemesMarkdown(cards []ThemeCard) string {
	var b strings.Builder
	b.WriteString("# Cluster Themes\n\n")

	for _, card := range cards {
		if card.Error != "" {
			fmt.Fprintf(&b, "## Cluster %d\n\nTheme generation failed: %s\n\n", card.ClusterID, card.Error)
			continue
		}
		fmt.Fprintf(&b, "## Cluster %d: %s\n\n", card.ClusterID, card.Name)
		fmt.Fprintf(&b, "*%d items*\n\n", card.ItemCount)
		if card.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", card.Description)
		}
		if len(card.Evidence) > 0 {
			b.WriteString("Evidence:\n\n")
			for _, e := range card.Evidence {
				fmt.Fprintf(&b, "- %s\n", e)
			}
			b.WriteString("\n")
		}
		if card.Strategy != "" {
			fmt.Fprintf(&b, "Strategy: %s\n\n", card.Strategy)
		}
	}
	return b.String()
}
