package textstats

import (
	"math"
	"math/rand"
)

// KMeansResult holds the outcome of one clustering run.
type KMeansResult struct {
	K          int
	Labels     []int
	Centers    [][]float64
	Silhouette float64
}

// KMeans clusters vectors into k groups with k-means++ seeding. The seed
// makes runs reproducible.
func KMeans(vectors [][]float64, k int, seed int64, maxIter int) ([]int, [][]float64) {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}
	if maxIter <= 0 {
		maxIter = 100
	}

	rng := rand.New(rand.NewSource(seed))
	centers := seedCenters(vectors, k, rng)
	labels := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, vec := range vectors {
			best := nearestCenter(vec, centers)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		centers = recomputeCenters(vectors, labels, k, rng)

		if !changed && iter > 0 {
			break
		}
	}

	return labels, centers
}

// seedCenters picks initial centers with k-means++: the first uniformly,
// the rest proportional to squared distance from the nearest chosen center.
func seedCenters(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centers := make([][]float64, 0, k)
	centers = append(centers, cloneVec(vectors[rng.Intn(n)]))

	dists := make([]float64, n)
	for len(centers) < k {
		var total float64
		for i, vec := range vectors {
			d := sqDist(vec, centers[nearestCenter(vec, centers)])
			dists[i] = d
			total += d
		}

		if total == 0 {
			// All points coincide with a center; pick uniformly.
			centers = append(centers, cloneVec(vectors[rng.Intn(n)]))
			continue
		}

		target := rng.Float64() * total
		var cum float64
		chosen := n - 1
		for i, d := range dists {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		centers = append(centers, cloneVec(vectors[chosen]))
	}

	return centers
}

func recomputeCenters(vectors [][]float64, labels []int, k int, rng *rand.Rand) [][]float64 {
	dim := len(vectors[0])
	centers := make([][]float64, k)
	counts := make([]int, k)
	for i := range centers {
		centers[i] = make([]float64, dim)
	}

	for i, vec := range vectors {
		c := labels[i]
		counts[c]++
		for j, x := range vec {
			centers[c][j] += x
		}
	}

	for c := range centers {
		if counts[c] == 0 {
			// Re-seed an empty cluster from a random point.
			copy(centers[c], vectors[rng.Intn(len(vectors))])
			continue
		}
		for j := range centers[c] {
			centers[c][j] /= float64(counts[c])
		}
	}

	return centers
}

func nearestCenter(vec []float64, centers [][]float64) int {
	best, bestDist := 0, math.MaxFloat64
	for c, center := range centers {
		if d := sqDist(vec, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Silhouette computes the mean silhouette coefficient over all points.
// Returns NaN when fewer than two clusters are populated.
func Silhouette(vectors [][]float64, labels []int) float64 {
	n := len(vectors)
	groups := make(map[int][]int)
	for i, label := range labels {
		groups[label] = append(groups[label], i)
	}
	if len(groups) < 2 || len(groups) >= n {
		return math.NaN()
	}

	var total float64
	var counted int

	for i := range vectors {
		own := labels[i]
		if len(groups[own]) <= 1 {
			// Singleton clusters contribute zero by convention.
			counted++
			continue
		}

		a := meanDistTo(vectors, i, groups[own], true)

		b := math.MaxFloat64
		for label, members := range groups {
			if label == own {
				continue
			}
			if d := meanDistTo(vectors, i, members, false); d < b {
				b = d
			}
		}

		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
		counted++
	}

	if counted == 0 {
		return math.NaN()
	}
	return total / float64(counted)
}

// AutoK runs k-means for each k in [kMin, kMax] and keeps the k with the
// best silhouette score. Falls back to kMin when no k produces a valid
// score.
func AutoK(vectors [][]float64, kMin, kMax int, seed int64) KMeansResult {
	if kMin < 2 {
		kMin = 2
	}
	if kMax > len(vectors)-1 {
		kMax = len(vectors) - 1
	}

	best := KMeansResult{K: -1, Silhouette: -1}
	for k := kMin; k <= kMax; k++ {
		labels, centers := KMeans(vectors, k, seed, 100)
		score := Silhouette(vectors, labels)
		if math.IsNaN(score) {
			continue
		}
		if score > best.Silhouette {
			best = KMeansResult{K: k, Labels: labels, Centers: centers, Silhouette: score}
		}
	}

	if best.K < 0 {
		labels, centers := KMeans(vectors, kMin, seed, 100)
		best = KMeansResult{K: kMin, Labels: labels, Centers: centers, Silhouette: math.NaN()}
	}

	return best
}

// Exemplars returns, for each cluster, the index of the point nearest its
// centroid.
func Exemplars(vectors [][]float64, labels []int, centers [][]float64) map[int]int {
	ex := make(map[int]int)
	bestDist := make(map[int]float64)

	for i, vec := range vectors {
		c := labels[i]
		if c < 0 || c >= len(centers) {
			continue
		}
		d := sqDist(vec, centers[c])
		if cur, ok := bestDist[c]; !ok || d < cur {
			bestDist[c] = d
			ex[c] = i
		}
	}

	return ex
}

func meanDistTo(vectors [][]float64, i int, members []int, excludeSelf bool) float64 {
	var total float64
	var count int
	for _, j := range members {
		if excludeSelf && j == i {
			continue
		}
		total += math.Sqrt(sqDist(vectors[i], vectors[j]))
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func cloneVec(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
