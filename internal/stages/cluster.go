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
	"time"

	"xhsresearch/internal/textstats"
	"xhsresearch/pkg/pipeline"
	"xhsresearch/pkg/workflow"
)

const clusterSeed = 42

// Cluster is stage 3: TF-IDF vectors over the analysis corpus, k-means
// with silhouette-driven k selection, top-term labels and exemplars.
type Cluster struct{}

func (c *Cluster) Name() string   { return "cluster" }
func (c *Cluster) Key() string    { return "step3_clusters" }
func (c *Cluster) Required() bool { return false }
func (c *Cluster) Heavy() bool    { return false }

// clusterMeta is the meta.json written next to the cluster outputs.
type clusterMeta struct {
	K           int       `json:"k"`
	KMin        int       `json:"k_min"`
	KMax        int       `json:"k_max"`
	Silhouette  float64   `json:"silhouette"`
	Documents   int       `json:"documents"`
	Vocabulary  int       `json:"vocabulary"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (c *Cluster) Run(ctx context.Context, wf *workflow.Config, params pipeline.Params) error {
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
	if len(docs) < 3 {
		return fmt.Errorf("need at least 3 analyses to cluster, found %d in %s", len(docs), analysesDir)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Analysis
	}

	vectorizer := textstats.NewVectorizer()
	vectors := vectorizer.FitTransform(texts)
	if len(vectorizer.Vocabulary()) == 0 {
		return fmt.Errorf("analysis corpus produced an empty vocabulary")
	}

	result := textstats.AutoK(vectors, cfg.Pipeline.ClusterKMin, cfg.Pipeline.ClusterKMax, clusterSeed)
	tops := vectorizer.TopTermsPerCluster(vectors, result.Labels, cfg.Pipeline.TopTerms)
	exemplars := textstats.Exemplars(vectors, result.Labels, result.Centers)

	outDir, err := wf.Dir("step3_clusters")
	if err != nil {
		return err
	}

	if err := writeClustersCSV(filepath.Join(outDir, "clusters.csv"), docs, result.Labels, exemplars); err != nil {
		return err
	}
	if err := writeClusterSummary(filepath.Join(outDir, "clusters_summary.md"), docs, result, tops, exemplars); err != nil {
		return err
	}
	meta := clusterMeta{
		K:           result.K,
		KMin:        cfg.Pipeline.ClusterKMin,
		KMax:        cfg.Pipeline.ClusterKMax,
		Silhouette:  result.Silhouette,
		Documents:   len(docs),
		Vocabulary:  len(vectorizer.Vocabulary()),
		GeneratedAt: time.Now(),
	}
	if math.IsNaN(meta.Silhouette) {
		meta.Silhouette = -1
	}
	if err := writeJSON(filepath.Join(outDir, "meta.json"), meta); err != nil {
		return err
	}

	log.InfoWithFields("clustering complete", map[string]interface{}{
		"documents":  len(docs),
		"k":          result.K,
		"silhouette": fmt.Sprintf("%.3f", result.Silhouette),
	})
	return nil
}

func writeClustersCSV(path string, docs []AnalysisDoc, labels []int, exemplars map[int]int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"path", "filename", "cluster_id", "is_exemplar"}); err != nil {
		return err
	}
	for i, doc := range docs {
		isExemplar := exemplars[labels[i]] == i
		if err := w.Write([]string{
			doc.Path,
			doc.Filename,
			strconv.Itoa(labels[i]),
			strconv.FormatBool(isExemplar),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeClusterSummary(path string, docs []AnalysisDoc, result textstats.KMeansResult,
	tops map[int][]string, exemplars map[int]int) error {
	sizes := make(map[int]int)
	for _, label := range result.Labels {
		sizes[label]++
	}

	clusterIDs := make([]int, 0, len(sizes))
	for id := range sizes {
		clusterIDs = append(clusterIDs, id)
	}
	sort.Ints(clusterIDs)

	var b strings.Builder
	fmt.Fprintf(&b, "# Cluster Summary\n\n")
	fmt.Fprintf(&b, "- Documents: %d\n", len(docs))
	fmt.Fprintf(&b, "- Clusters: %d\n", result.K)
	if !math.IsNaN(result.Silhouette) {
		fmt.Fprintf(&b, "- Silhouette: %.3f\n", result.Silhouette)
	}
	b.WriteString("\n")

	for _, id := range clusterIDs {
		fmt.Fprintf(&b, "## Cluster %d (n=%d)\n\n", id, sizes[id])
		if terms := tops[id]; len(terms) > 0 {
			fmt.Fprintf(&b, "Top terms: %s\n\n", strings.Join(terms, ", "))
		}
		if idx, ok := exemplars[id]; ok {
			fmt.Fprintf(&b, "Exemplar: %s\n\n", docs[idx].Filename)
			fmt.Fprintf(&b, "> %s\n\n", snippet(docs[idx].Analysis, 300))
		}
	}

	return os.WriteFile(path, []byte(b.String()), 0644)
}
