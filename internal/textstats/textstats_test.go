package textstats

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lowercases and splits", "Matcha Latte, best-seller!", []string{"matcha", "latte", "best", "seller"}},
		{"drops stop words", "the product is on the shelf", []string{"product", "shelf"}},
		{"drops single letters", "a b product", []string{"product"}},
		{"splits han runs per character", "美白 serum", []string{"美", "白", "serum"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}

func TestVectorizerVocabularyFiltering(t *testing.T) {
	docs := []string{
		"matcha ritual morning",
		"matcha ceremony evening",
		"matcha powder quality",
		"skincare routine quality",
	}

	v := NewVectorizer()
	v.Fit(docs)

	vocab := v.Vocabulary()
	// "matcha" appears in 3/4 docs (75% <= 80% max_df) so it survives;
	// terms appearing once are dropped by min_df=2.
	assert.Contains(t, vocab, "matcha")
	assert.Contains(t, vocab, "quality")
	assert.NotContains(t, vocab, "ritual")
	assert.NotContains(t, vocab, "skincare")
}

func TestVectorizerTransformNormalized(t *testing.T) {
	docs := []string{
		"matcha quality matcha",
		"matcha quality",
		"quality control",
		"matcha control",
	}

	v := NewVectorizer()
	vectors := v.FitTransform(docs)
	require.Len(t, vectors, len(docs))

	for i, vec := range vectors {
		var sum float64
		for _, x := range vec {
			sum += x * x
		}
		if sum > 0 {
			assert.InDelta(t, 1.0, sum, 1e-9, "vector %d is not unit length", i)
		}
	}
}

func TestTopTermsPerCluster(t *testing.T) {
	docs := []string{
		"matcha tea ceremony green",
		"matcha tea powder green",
		"serum skincare glow hydration",
		"serum skincare glow routine",
	}
	labels := []int{0, 0, 1, 1}

	v := NewVectorizer()
	v.MinDF = 2
	vectors := v.FitTransform(docs)

	tops := v.TopTermsPerCluster(vectors, labels, 3)
	require.Contains(t, tops, 0)
	require.Contains(t, tops, 1)

	assert.Contains(t, tops[0], "matcha")
	assert.Contains(t, tops[1], "serum")
	assert.NotContains(t, tops[0], "serum")
	assert.NotContains(t, tops[1], "matcha")
}

// twoBlobs builds two well-separated groups of near-identical vectors.
func twoBlobs() ([][]float64, []int) {
	var vectors [][]float64
	var truth []int
	for i := 0; i < 6; i++ {
		jitter := float64(i) * 0.01
		vectors = append(vectors, []float64{1 + jitter, 0, 0})
		truth = append(truth, 0)
	}
	for i := 0; i < 6; i++ {
		jitter := float64(i) * 0.01
		vectors = append(vectors, []float64{0, 1 + jitter, 0})
		truth = append(truth, 1)
	}
	return vectors, truth
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	vectors, truth := twoBlobs()

	labels, centers := KMeans(vectors, 2, 42, 100)
	require.Len(t, labels, len(vectors))
	require.Len(t, centers, 2)

	// All members of each true group share a label, and the groups differ.
	for i := 1; i < 6; i++ {
		assert.Equal(t, labels[0], labels[i], "first blob split")
		assert.Equal(t, labels[6], labels[6+i], "second blob split")
	}
	assert.NotEqual(t, labels[0], labels[6])
	_ = truth
}

func TestKMeansDeterministicForSeed(t *testing.T) {
	vectors, _ := twoBlobs()

	a, _ := KMeans(vectors, 2, 7, 100)
	b, _ := KMeans(vectors, 2, 7, 100)
	assert.Equal(t, a, b)
}

func TestSilhouette(t *testing.T) {
	vectors, truth := twoBlobs()

	good := Silhouette(vectors, truth)
	assert.False(t, math.IsNaN(good))
	assert.Greater(t, good, 0.8, "separated blobs should score high")

	// Single cluster cannot be scored.
	single := make([]int, len(vectors))
	assert.True(t, math.IsNaN(Silhouette(vectors, single)))
}

func TestAutoKFindsTwoClusters(t *testing.T) {
	vectors, _ := twoBlobs()

	result := AutoK(vectors, 2, 5, 42)
	assert.Equal(t, 2, result.K)
	assert.Greater(t, result.Silhouette, 0.5)
	require.Len(t, result.Labels, len(vectors))
}

func TestExemplars(t *testing.T) {
	vectors, truth := twoBlobs()
	_, centers := KMeans(vectors, 2, 42, 100)
	labels, _ := KMeans(vectors, 2, 42, 100)

	ex := Exemplars(vectors, labels, centers)
	require.Len(t, ex, 2)
	for c, idx := range ex {
		assert.Equal(t, labels[idx], c, "exemplar %d not in its own cluster", idx)
	}
	_ = truth
}

func TestKMeansEdgeCases(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		labels, centers := KMeans(nil, 3, 1, 10)
		assert.Nil(t, labels)
		assert.Nil(t, centers)
	})

	t.Run("k larger than n", func(t *testing.T) {
		vectors := [][]float64{{1, 0}, {0, 1}}
		labels, centers := KMeans(vectors, 5, 1, 10)
		assert.Len(t, labels, 2)
		assert.Len(t, centers, 2)
	})

	t.Run("identical points", func(t *testing.T) {
		vectors := make([][]float64, 5)
		for i := range vectors {
			vectors[i] = []float64{1, 1}
		}
		labels, _ := KMeans(vectors, 2, 1, 10)
		assert.Len(t, labels, 5)
	})
}

func TestTopTermsStableOrder(t *testing.T) {
	docs := make([]string, 4)
	for i := range docs {
		docs[i] = fmt.Sprintf("matcha quality doc%d matcha", i%2)
	}

	v := NewVectorizer()
	vectors := v.FitTransform(docs)

	first := v.TopTerms(vectors, []int{0, 1, 2, 3}, 5)
	second := v.TopTerms(vectors, []int{0, 1, 2, 3}, 5)
	assert.Equal(t, first, second)
}
