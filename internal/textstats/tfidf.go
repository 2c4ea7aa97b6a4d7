// Package textstats implements the lightweight text statistics the analysis
// stages need: TF-IDF vectorization, k-means clustering with silhouette
// scoring, and per-group term salience. Documents are analysis snippets in
// the low hundreds, so everything works on dense vectors.
package textstats

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// englishStopWords is the filter applied during vectorization. Analyses are
// mostly English with occasional Chinese terms.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "for": true,
	"from": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "in": true, "is": true, "it": true, "its": true,
	"more": true, "most": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "other": true, "our": true, "out": true,
	"she": true, "so": true, "some": true, "such": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "those": true,
	"to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "which": true, "while": true, "who": true, "will": true,
	"with": true, "would": true, "you": true, "your": true, "into": true,
	"also": true, "can": true, "may": true, "its'": true, "über": true,
	"about": true, "after": true, "all": true, "am": true, "any": true,
	"because": true, "before": true, "between": true, "both": true,
	"each": true, "few": true, "how": true, "if": true, "me": true,
	"my": true, "now": true, "only": true, "own": true, "same": true,
	"through": true, "too": true, "under": true, "until": true, "up": true,
	"very": true, "where": true, "why": true, "do": true, "does": true,
	"did": true, "doing": true, "had": true, "having": true, "here": true,
	"him": true, "i": true, "itself": true, "just": true, "over": true,
	"s": true, "t": true, "us": true,
}

// Tokenize lowercases and splits text into word tokens. CJK runs split into
// single characters so Chinese terms still contribute to the vocabulary.
func Tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tok := current.String()
			if len(tok) > 1 && !englishStopWords[tok] {
				tokens = append(tokens, tok)
			}
			current.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// Vectorizer builds TF-IDF vectors over a document corpus. Terms appearing
// in more than MaxDF of documents or fewer than MinDF documents are dropped.
type Vectorizer struct {
	MaxDF float64
	MinDF int

	vocab []string
	index map[string]int
	idf   []float64
}

// NewVectorizer returns a vectorizer with the stage defaults.
func NewVectorizer() *Vectorizer {
	return &Vectorizer{MaxDF: 0.8, MinDF: 2}
}

// Fit learns the vocabulary and IDF weights from the corpus.
func (v *Vectorizer) Fit(docs []string) {
	df := make(map[string]int)
	tokenized := make([][]string, len(docs))

	for i, doc := range docs {
		tokens := Tokenize(doc)
		tokenized[i] = tokens

		seen := make(map[string]bool, len(tokens))
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}

	n := len(docs)
	maxCount := n
	if v.MaxDF > 0 && v.MaxDF < 1 {
		maxCount = int(v.MaxDF * float64(n))
	}
	minCount := v.MinDF
	if minCount < 1 {
		minCount = 1
	}

	v.vocab = v.vocab[:0]
	for term, count := range df {
		if count >= minCount && count <= maxCount {
			v.vocab = append(v.vocab, term)
		}
	}
	sort.Strings(v.vocab)

	v.index = make(map[string]int, len(v.vocab))
	v.idf = make([]float64, len(v.vocab))
	for i, term := range v.vocab {
		v.index[term] = i
		// Smoothed IDF, never zero
		v.idf[i] = math.Log(float64(1+n)/float64(1+df[term])) + 1
	}
}

// Transform converts documents to L2-normalized TF-IDF vectors.
func (v *Vectorizer) Transform(docs []string) [][]float64 {
	vectors := make([][]float64, len(docs))
	for i, doc := range docs {
		vec := make([]float64, len(v.vocab))
		for _, tok := range Tokenize(doc) {
			if j, ok := v.index[tok]; ok {
				vec[j]++
			}
		}
		for j := range vec {
			vec[j] *= v.idf[j]
		}
		NormalizeVec(vec)
		vectors[i] = vec
	}
	return vectors
}

// FitTransform fits the vocabulary and transforms the corpus in one pass.
func (v *Vectorizer) FitTransform(docs []string) [][]float64 {
	v.Fit(docs)
	return v.Transform(docs)
}

// Vocabulary returns the learned terms in index order.
func (v *Vectorizer) Vocabulary() []string {
	return v.vocab
}

// NormalizeVec scales a vector to unit L2 norm in place.
func NormalizeVec(vec []float64) {
	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

// TermScore pairs a term with its salience score.
type TermScore struct {
	Term  string
	Score float64
}

// TopTerms returns the top-n terms of the mean vector over the given
// document indexes.
func (v *Vectorizer) TopTerms(vectors [][]float64, indexes []int, n int) []TermScore {
	if len(indexes) == 0 || len(v.vocab) == 0 {
		return nil
	}

	mean := make([]float64, len(v.vocab))
	for _, idx := range indexes {
		for j, x := range vectors[idx] {
			mean[j] += x
		}
	}
	for j := range mean {
		mean[j] /= float64(len(indexes))
	}
	NormalizeVec(mean)

	scores := make([]TermScore, 0, len(mean))
	for j, s := range mean {
		if s > 0 {
			scores = append(scores, TermScore{Term: v.vocab[j], Score: s})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Term < scores[j].Term
	})

	if len(scores) > n {
		scores = scores[:n]
	}
	return scores
}

// TopTermsPerCluster labels each cluster with the top-n terms of its mean
// TF-IDF vector.
func (v *Vectorizer) TopTermsPerCluster(vectors [][]float64, labels []int, n int) map[int][]string {
	groups := make(map[int][]int)
	for i, label := range labels {
		groups[label] = append(groups[label], i)
	}

	tops := make(map[int][]string, len(groups))
	for label, indexes := range groups {
		terms := v.TopTerms(vectors, indexes, n)
		names := make([]string, len(terms))
		for i, t := range terms {
			names[i] = t.Term
		}
		tops[label] = names
	}
	return tops
}
