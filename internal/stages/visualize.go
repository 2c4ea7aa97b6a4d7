package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"xhsresearch/pkg/errors"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

// Quadrant labels for codebook patterns.
const (
	QuadrantHero        = "hero"
	QuadrantTableStakes = "table_stakes"
	QuadrantHiddenGem   = "hidden_gem"
	QuadrantNiche       = "niche"
)

var quadrantOrder = []string{QuadrantHero, QuadrantHiddenGem, QuadrantTableStakes, QuadrantNiche}

// Visualize is stage 7: classify the codebook patterns into an adoption
// by distinctiveness quadrant map and write the playbook.
type Visualize struct{}

func (v *Visualize) Name() string   { return "visualize" }
func (v *Visualize) Key() string    { return "step7_visualizations" }
func (v *Visualize) Required() bool { return false }
func (v *Visualize) Heavy() bool    { return false }

// codebookEntry is one row of the stage 5 codebook.
type codebookEntry struct {
	Section string
	Rank    int
	Pattern string
}

// playbookRow is one classified pattern.
type playbookRow struct {
	Section         string
	Pattern         string
	DocFreq         int
	Adoption        float64
	Distinctiveness float64
	Quadrant        string
}

func (v *Visualize) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

	insightsDir, err := wf.Dir("step5_insights")
	if err != nil {
		return err
	}
	codebookPath := filepath.Join(insightsDir, "codebook.csv")
	entries, err := loadCodebook(codebookPath)
	if err != nil {
		return err
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

	entries = limitPerSection(entries, cfg.Pipeline.TopPerSection)

	rows := make([]playbookRow, 0, len(entries))
	for _, entry := range entries {
		row := classifyPattern(entry, docs)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Quadrant != rows[j].Quadrant {
			return rows[i].Quadrant < rows[j].Quadrant
		}
		if rows[i].Adoption != rows[j].Adoption {
			return rows[i].Adoption > rows[j].Adoption
		}
		return rows[i].Distinctiveness > rows[j].Distinctiveness
	})

	outDir, err := wf.Dir("step7_visualizations")
	if err != nil {
		return err
	}
	if err := writeQuadrantsCSV(filepath.Join(outDir, "quadrants.csv"), rows); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "playbook.md"),
		[]byte(renderPlaybook(rows)), 0644); err != nil {
		return err
	}

	log.InfoWithFields("visualization complete", map[string]interface{}{
		"patterns": len(rows),
	})
	return nil
}

// loadCodebook reads the stage 5 codebook. A missing codebook is a
// configuration error so the caller knows which stage to run first.
func loadCodebook(path string) ([]codebookEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"codebook not found at %s, run the insights stage first", path)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed codebook %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("codebook %s contains no patterns", path)
	}

	entries := make([]codebookEntry, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 3 {
			continue
		}
		rank, _ := strconv.Atoi(rec[1])
		pattern := strings.TrimSpace(rec[2])
		if pattern == "" {
			continue
		}
		entries = append(entries, codebookEntry{
			Section: rec[0],
			Rank:    rank,
			Pattern: pattern,
		})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("codebook %s contains no usable patterns", path)
	}
	return entries, nil
}

func limitPerSection(entries []codebookEntry, perSection int) []codebookEntry {
	if perSection <= 0 {
		return entries
	}
	counts := make(map[string]int)
	kept := entries[:0]
	for _, entry := range entries {
		if counts[entry.Section] >= perSection {
			continue
		}
		counts[entry.Section]++
		kept = append(kept, entry)
	}
	return kept
}

// classifyPattern measures how widely a pattern is adopted across the
// corpus and how concentrated it is in one analysis section, then places
// it in a quadrant.
func classifyPattern(entry codebookEntry, docs []AnalysisDoc) playbookRow {
	needle := strings.ToLower(entry.Pattern)

	docFreq := 0
	sectionCounts := make(map[string]int, len(CanonSections))
	for _, doc := range docs {
		if strings.Contains(strings.ToLower(doc.Analysis), needle) {
			docFreq++
		}
		for _, section := range CanonSections {
			if text := doc.Sections[section]; text != "" {
				if strings.Contains(strings.ToLower(text), needle) {
					sectionCounts[section]++
				}
			}
		}
	}

	adoption := float64(docFreq) / float64(len(docs))
	distinctiveness := 1 - normalizedEntropy(sectionCounts, len(CanonSections))

	return playbookRow{
		Section:         entry.Section,
		Pattern:         entry.Pattern,
		DocFreq:         docFreq,
		Adoption:        adoption,
		Distinctiveness: distinctiveness,
		Quadrant:        classifyQuadrant(adoption, distinctiveness),
	}
}

// normalizedEntropy returns the entropy of the counts over nBuckets,
// scaled to [0,1]. Zero total counts as maximally uniform.
func normalizedEntropy(counts map[string]int, nBuckets int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 || nBuckets < 2 {
		return 1
	}

	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(nBuckets))
}

func classifyQuadrant(adoption, distinctiveness float64) string {
	switch {
	case adoption >= 0.5 && distinctiveness >= 0.5:
		return QuadrantHero
	case adoption >= 0.5:
		return QuadrantTableStakes
	case distinctiveness >= 0.5:
		return QuadrantHiddenGem
	default:
		return QuadrantNiche
	}
}

func writeQuadrantsCSV(path string, rows []playbookRow) error {
	records := [][]string{{"section", "pattern", "doc_freq", "adoption", "distinctiveness", "quadrant"}}
	for _, row := range rows {
		records = append(records, []string{
			row.Section,
			row.Pattern,
			strconv.Itoa(row.DocFreq),
			formatScore(row.Adoption),
			formatScore(row.Distinctiveness),
			row.Quadrant,
		})
	}
	return writeCSV(path, records)
}

var quadrantTitles = map[string]string{
	QuadrantHero:        "Hero (widely adopted, sharply focused)",
	QuadrantHiddenGem:   "Hidden Gems (focused but rare, worth watching)",
	QuadrantTableStakes: "Table Stakes (everywhere, undifferentiated)",
	QuadrantNiche:       "Niche (rare and diffuse)",
}

func renderPlaybook(rows []playbookRow) string {
	byQuadrant := make(map[string][]playbookRow)
	for _, row := range rows {
		byQuadrant[row.Quadrant] = append(byQuadrant[row.Quadrant], row)
	}

	var b strings.Builder
	b.WriteString("# Brand Playbook\n\n")
	b.WriteString("Patterns from the insight codebook, positioned by adoption across\n")
	b.WriteString("the corpus and distinctiveness to one analysis section.\n\n")

	for _, quadrant := range quadrantOrder {
		sub := byQuadrant[quadrant]
		if len(sub) == 0 {
			continue
		}
		if len(sub) > 12 {
			sub = sub[:12]
		}
		fmt.Fprintf(&b, "## %s\n\n", quadrantTitles[quadrant])
		for _, row := range sub {
			fmt.Fprintf(&b, "- **%s** (%s) adoption=%.2f, distinctiveness=%.2f\n",
				row.Pattern, row.Section, row.Adoption, row.Distinctiveness)
		}
		b.WriteString("\n")
	}
	return b.String()
}
