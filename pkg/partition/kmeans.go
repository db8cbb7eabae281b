package partition

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// KMeans is the centroid-based strategy: kmeans++ seeding, Lloyd iterations,
// a bounded restart loop and empty-cluster reseeding. The restart with the
// lowest within-cluster sum of squares wins.
type KMeans struct {
	MaxIter  int
	Restarts int
	Tol      float64
}

// NewKMeans returns a KMeans strategy with the usual defaults.
func NewKMeans() *KMeans {
	return &KMeans{MaxIter: 300, Restarts: 4, Tol: 1e-6}
}

func (k *KMeans) Name() string { return "kmeans" }

// Partition clusters data rows into kk groups. Rows are never left
// unassigned by this strategy.
func (k *KMeans) Partition(ctx context.Context, data [][]float64, kk int, seed int64) ([]int, error) {
	n := len(data)
	if kk < 1 || kk > n {
		return nil, fmt.Errorf("%w: k=%d over %d genes", ErrBadK, kk, n)
	}

	rng := rand.New(rand.NewSource(seed))

	bestScore := math.Inf(1)
	var best []int
	for r := 0; r < k.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assign, score, ok := k.run(data, kk, rng)
		if ok && score < bestScore {
			bestScore = score
			best = assign
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: k=%d after %d restarts", ErrNoConverge, kk, k.Restarts)
	}
	return best, nil
}

func (k *KMeans) run(data [][]float64, kk int, rng *rand.Rand) (assign []int, score float64, converged bool) {
	n, dim := len(data), len(data[0])
	centroids := k.seedPlusPlus(data, kk, rng)
	assign = make([]int, n)
	for i := range assign {
		assign[i] = Unassigned
	}

	for iter := 0; iter < k.MaxIter; iter++ {
		moved := 0
		for i, row := range data {
			c := nearestCentroid(row, centroids)
			if assign[i] != c {
				assign[i] = c
				moved++
			}
		}

		// Recompute centroids; reseed any that lost all members.
		counts := make([]int, kk)
		next := make([][]float64, kk)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, row := range data {
			floats.Add(next[assign[i]], row)
			counts[assign[i]]++
		}
		shift := 0.0
		for c := range next {
			if counts[c] == 0 {
				copy(next[c], data[rng.Intn(n)])
				continue
			}
			floats.Scale(1/float64(counts[c]), next[c])
			shift += floats.Distance(next[c], centroids[c], 2)
		}
		centroids = next

		if moved == 0 || shift < k.Tol {
			return assign, wcss(data, assign, centroids), true
		}
	}
	return nil, 0, false
}

// seedPlusPlus picks initial centroids with the kmeans++ weighting.
func (k *KMeans) seedPlusPlus(data [][]float64, kk int, rng *rand.Rand) [][]float64 {
	n := len(data)
	centroids := make([][]float64, 0, kk)
	centroids = append(centroids, append([]float64(nil), data[rng.Intn(n)]...))

	dist := make([]float64, n)
	for len(centroids) < kk {
		total := 0.0
		for i, row := range data {
			d := math.Inf(1)
			for _, c := range centroids {
				if dd := floats.Distance(row, c, 2); dd < d {
					d = dd
				}
			}
			dist[i] = d * d
			total += dist[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, append([]float64(nil), data[rng.Intn(n)]...))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		pick := n - 1
		for i, d := range dist {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), data[pick]...))
	}
	return centroids
}

func nearestCentroid(row []float64, centroids [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, cent := range centroids {
		if d := floats.Distance(row, cent, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func wcss(data [][]float64, assign []int, centroids [][]float64) float64 {
	total := 0.0
	for i, row := range data {
		d := floats.Distance(row, centroids[assign[i]], 2)
		total += d * d
	}
	return total
}
