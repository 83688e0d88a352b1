// Package anomaly holds the unsupervised side of the pipeline: an isolation
// forest scored against a contamination-derived threshold, combined with
// fixed statistical checks that fire with or without a fitted model.
package anomaly

import (
	"math"
	"math/rand"
	"sort"
)

// IsolationConfig controls isolation forest fitting.
type IsolationConfig struct {
	NumTrees      int
	SubsampleSize int
	Contamination float64
	Seed          int64
}

// DefaultIsolationConfig returns the standard isolation forest parameters.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		NumTrees:      100,
		SubsampleSize: 256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// isoNode is one node of an isolation tree. A leaf has Size > 0; an internal
// node splits on Feature at Threshold.
type isoNode struct {
	Feature   int      `json:"f,omitempty"`
	Threshold float64  `json:"t,omitempty"`
	Left      *isoNode `json:"l,omitempty"`
	Right     *isoNode `json:"r,omitempty"`
	Size      int      `json:"n,omitempty"`
}

// IsolationForest scores samples by how quickly random splits isolate them.
// Scores live in (0,1]; values near 1 mark outliers. Immutable once fitted.
type IsolationForest struct {
	Trees         []*isoNode `json:"trees"`
	SubsampleSize int        `json:"subsample_size"`
	Threshold     float64    `json:"threshold"`
}

// FitIsolationForest builds the forest from unlabeled samples and fixes the
// decision threshold at the (1 - contamination) quantile of the training
// scores, so roughly that fraction of the training set scores as anomalous.
func FitIsolationForest(samples [][]float64, cfg IsolationConfig) *IsolationForest {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 100
	}
	if cfg.SubsampleSize <= 0 {
		cfg.SubsampleSize = 256
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = 0.1
	}

	psi := cfg.SubsampleSize
	if psi > len(samples) {
		psi = len(samples)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	trees := make([]*isoNode, cfg.NumTrees)
	for t := range trees {
		sub := make([][]float64, psi)
		for i, idx := range rng.Perm(len(samples))[:psi] {
			sub[i] = samples[idx]
		}
		trees[t] = buildIsoTree(sub, 0, heightLimit, rng)
	}

	f := &IsolationForest{Trees: trees, SubsampleSize: psi}

	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.Score(s)
	}
	sort.Float64s(scores)
	cut := int(math.Floor(float64(len(scores)) * (1 - cfg.Contamination)))
	if cut >= len(scores) {
		cut = len(scores) - 1
	}
	f.Threshold = scores[cut]
	return f
}

func buildIsoTree(samples [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(samples) <= 1 {
		return &isoNode{Size: len(samples)}
	}

	dims := len(samples[0])
	// Pick a split dimension with spread; constant data becomes a leaf.
	for attempt := 0; attempt < dims; attempt++ {
		feat := rng.Intn(dims)
		lo, hi := samples[0][feat], samples[0][feat]
		for _, s := range samples[1:] {
			if s[feat] < lo {
				lo = s[feat]
			}
			if s[feat] > hi {
				hi = s[feat]
			}
		}
		if hi <= lo {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, s := range samples {
			if s[feat] < split {
				left = append(left, s)
			} else {
				right = append(right, s)
			}
		}
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &isoNode{
			Feature:   feat,
			Threshold: split,
			Left:      buildIsoTree(left, depth+1, limit, rng),
			Right:     buildIsoTree(right, depth+1, limit, rng),
		}
	}
	return &isoNode{Size: len(samples)}
}

// pathLength follows the sample down one tree, extending leaf depth by the
// expected path length of the unsplit points that landed there.
func pathLength(node *isoNode, sample []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + avgPathLength(node.Size)
	}
	if sample[node.Feature] < node.Threshold {
		return pathLength(node.Left, sample, depth+1)
	}
	return pathLength(node.Right, sample, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// Score returns the anomaly score for one sample: 2^(-E[h(x)] / c(psi)).
func (f *IsolationForest) Score(sample []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, sample, 0)
	}
	mean := total / float64(len(f.Trees))
	c := avgPathLength(f.SubsampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

// IsAnomaly reports whether the sample scores above the fitted threshold.
func (f *IsolationForest) IsAnomaly(sample []float64) (bool, float64) {
	score := f.Score(sample)
	return score > f.Threshold, score
}
