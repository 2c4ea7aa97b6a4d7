package stages

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"xhsresearch/internal/textstats"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

// Comparative is stage 4: TF-IDF salience per section and per group, plus
// differential salience of each group against the rest. Groups come from
// the stage 3 cluster assignments when available.
type Comparative struct{}

func (c *Comparative) Name() string   { return "comparative" }
func (c *Comparative) Key() string    { return "step4_comparative" }
func (c *Comparative) Required() bool { return false }
func (c *Comparative) Heavy() bool    { return false }

func (c *Comparative) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
	cfg := params.Config
	log := params.Logger

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

	groups := loadGroups(wf, docs)
	topK := cfg.Pipeline.TopPerSection

	outDir, err := wf.Dir("step4_comparative")
	if err != nil {
		return err
	}

	if err := writeSectionSalience(filepath.Join(outDir, "top_terms_per_section.csv"), docs, topK); err != nil {
		return err
	}
	if err := writeGroupSalience(filepath.Join(outDir, "top_terms_per_group.csv"), docs, groups, topK); err != nil {
		return err
	}
	if err := writeDifferentialSalience(filepath.Join(outDir, "differential_salience.csv"), docs, groups, topK); err != nil {
		return err
	}
	if err := writeGroupCounts(filepath.Join(outDir, "doc_counts_by_group.csv"), groups); err != nil {
		return err
	}

	log.InfoWithFields("comparative analysis complete", map[string]interface{}{
		"documents": len(docs),
		"groups":    len(groups),
	})
	return nil
}

// loadGroups assigns each document to a group. Cluster assignments from
// stage 3 are used when present; otherwise every document lands in "all".
func loadGroups(wf *workflow.Config, docs []AnalysisDoc) map[string][]int {
	groups := make(map[string][]int)

	clustersDir, err := wf.Dir("step3_clusters")
	if err == nil {
		if byPath := readClusterAssignments(filepath.Join(clustersDir, "clusters.csv")); len(byPath) > 0 {
			for i, doc := range docs {
				if id, ok := byPath[doc.Path]; ok {
					name := fmt.Sprintf("cluster_%d", id)
					groups[name] = append(groups[name], i)
				}
			}
			if len(groups) > 0 {
				return groups
			}
		}
	}

	for i := range docs {
		groups["all"] = append(groups["all"], i)
	}
	return groups
}

// readClusterAssignments parses clusters.csv into path -> cluster id.
// Missing or malformed files yield nil.
func readClusterAssignments(path string) map[string]int {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) < 2 {
		return nil
	}

	byPath := make(map[string]int, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		id, err := strconv.Atoi(row[2])
		if err != nil {
			continue
		}
		byPath[row[0]] = id
	}
	return byPath
}

// corpusVectorizer returns a vectorizer tuned for the corpus size: small
// corpora keep single-occurrence terms.
func corpusVectorizer(n int) *textstats.Vectorizer {
	v := textstats.NewVectorizer()
	if n < 10 {
		v.MinDF = 1
	}
	return v
}

func writeSectionSalience(path string, docs []AnalysisDoc, topK int) error {
	rows := [][]string{{"section", "term", "salience"}}

	for _, section := range CanonSections {
		var texts []string
		for _, doc := range docs {
			if text := doc.Sections[section]; text != "" {
				texts = append(texts, text)
			}
		}
		if len(texts) == 0 {
			continue
		}

		v := corpusVectorizer(len(texts))
		vectors := v.FitTransform(texts)
		indexes := make([]int, len(texts))
		for i := range indexes {
			indexes[i] = i
		}
		for _, ts := range v.TopTerms(vectors, indexes, topK) {
			rows = append(rows, []string{section, ts.Term, formatScore(ts.Score)})
		}
	}

	return writeCSV(path, rows)
}

func writeGroupSalience(path string, docs []AnalysisDoc, groups map[string][]int, topK int) error {
	rows := [][]string{{"group", "term", "salience"}}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Analysis
	}
	v := corpusVectorizer(len(texts))
	vectors := v.FitTransform(texts)

	for _, group := range sortedGroupNames(groups) {
		for _, ts := range v.TopTerms(vectors, groups[group], topK) {
			rows = append(rows, []string{group, ts.Term, formatScore(ts.Score)})
		}
	}

	return writeCSV(path, rows)
}

// writeDifferentialSalience ranks, per group, the terms whose mean TF-IDF
// weight most exceeds the mean over all other documents.
func writeDifferentialSalience(path string, docs []AnalysisDoc, groups map[string][]int, topK int) error {
	rows := [][]string{{"group", "term", "salience_ratio"}}

	if len(groups) > 1 {
		texts := make([]string, len(docs))
		for i, doc := range docs {
			texts[i] = doc.Analysis
		}
		v := corpusVectorizer(len(texts))
		vectors := v.FitTransform(texts)
		vocab := v.Vocabulary()

		const eps = 1e-6
		for _, group := range sortedGroupNames(groups) {
			members := make(map[int]bool, len(groups[group]))
			for _, idx := range groups[group] {
				members[idx] = true
			}

			meanIn := make([]float64, len(vocab))
			meanOut := make([]float64, len(vocab))
			var nIn, nOut int
			for i, vec := range vectors {
				if members[i] {
					nIn++
					for j, x := range vec {
						meanIn[j] += x
					}
				} else {
					nOut++
					for j, x := range vec {
						meanOut[j] += x
					}
				}
			}
			if nIn == 0 || nOut == 0 {
				continue
			}

			type ratio struct {
				term  string
				value float64
			}
			ratios := make([]ratio, 0, len(vocab))
			for j, term := range vocab {
				r := (meanIn[j]/float64(nIn) + eps) / (meanOut[j]/float64(nOut) + eps)
				ratios = append(ratios, ratio{term: term, value: r})
			}
			sort.Slice(ratios, func(a, b int) bool {
				if ratios[a].value != ratios[b].value {
					return ratios[a].value > ratios[b].value
				}
				return ratios[a].term < ratios[b].term
			})

			limit := topK
			if limit > len(ratios) {
				limit = len(ratios)
			}
			for _, r := range ratios[:limit] {
				rows = append(rows, []string{group, r.term, formatScore(r.value)})
			}
		}
	}

	return writeCSV(path, rows)
}

func writeGroupCounts(path string, groups map[string][]int) error {
	rows := [][]string{{"group", "n_docs"}}
	for _, group := range sortedGroupNames(groups) {
		rows = append(rows, []string{group, strconv.Itoa(len(groups[group]))})
	}
	return writeCSV(path, rows)
}

func sortedGroupNames(groups map[string][]int) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}
