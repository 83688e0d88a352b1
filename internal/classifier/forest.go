package classifier

import (
	"math"
	"math/rand"
	"sort"
)

// ForestConfig controls random forest training.
type ForestConfig struct {
	NumTrees int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

// DefaultForestConfig mirrors the training defaults of the deployed models.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees: 100,
		MaxDepth: 15,
		MinLeaf:  2,
		Seed:     42,
	}
}

type treeNode struct {
	Feature   int       `json:"f,omitempty"`
	Threshold float64   `json:"t,omitempty"`
	Left      *treeNode `json:"l,omitempty"`
	Right     *treeNode `json:"r,omitempty"`
	// Probs is the class distribution at a leaf; non-nil marks the node
	// as terminal.
	Probs []float64 `json:"p,omitempty"`
}

// Forest is a bagging ensemble of CART trees with gini splits and feature
// subsampling. Probability estimates average the leaf distributions.
type Forest struct {
	Trees      []*treeNode `json:"trees"`
	NumClasses int         `json:"num_classes"`
}

type forestTrainer struct {
	samples    [][]float64
	labels     []int
	numClasses int
	cfg        ForestConfig
	rng        *rand.Rand
	mtry       int
}

// FitForest trains a random forest. Training is deterministic for a fixed
// seed and sample order.
func FitForest(samples [][]float64, labels []int, numClasses int, cfg ForestConfig) *Forest {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 100
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 15
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 1
	}

	numFeatures := 0
	if len(samples) > 0 {
		numFeatures = len(samples[0])
	}
	mtry := int(math.Sqrt(float64(numFeatures)))
	if mtry < 1 {
		mtry = 1
	}

	trainer := &forestTrainer{
		samples:    samples,
		labels:     labels,
		numClasses: numClasses,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		mtry:       mtry,
	}

	forest := &Forest{
		Trees:      make([]*treeNode, 0, cfg.NumTrees),
		NumClasses: numClasses,
	}
	for t := 0; t < cfg.NumTrees; t++ {
		idx := make([]int, len(samples))
		for i := range idx {
			idx[i] = trainer.rng.Intn(len(samples))
		}
		forest.Trees = append(forest.Trees, trainer.build(idx, 0))
	}
	return forest
}

func (ft *forestTrainer) build(idx []int, depth int) *treeNode {
	counts := ft.classCounts(idx)
	if depth >= ft.cfg.MaxDepth || len(idx) < 2*ft.cfg.MinLeaf || isPure(counts) {
		return ft.leaf(counts, len(idx))
	}

	bestFeature, bestThreshold, found := ft.bestSplit(idx, counts)
	if !found {
		return ft.leaf(counts, len(idx))
	}

	var left, right []int
	for _, i := range idx {
		if ft.samples[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < ft.cfg.MinLeaf || len(right) < ft.cfg.MinLeaf {
		return ft.leaf(counts, len(idx))
	}

	return &treeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      ft.build(left, depth+1),
		Right:     ft.build(right, depth+1),
	}
}

func (ft *forestTrainer) bestSplit(idx []int, total []int) (int, float64, bool) {
	bestImpurity := math.Inf(1)
	bestFeature := -1
	bestThreshold := 0.0

	numFeatures := len(ft.samples[0])
	perm := ft.rng.Perm(numFeatures)
	features := perm
	if ft.mtry < numFeatures {
		features = perm[:ft.mtry]
	}

	type pair struct {
		value float64
		label int
	}
	pairs := make([]pair, len(idx))

	for _, f := range features {
		for i, sample := range idx {
			pairs[i] = pair{value: ft.samples[sample][f], label: ft.labels[sample]}
		}
		sort.Slice(pairs, func(a, b int) bool { return pairs[a].value < pairs[b].value })

		leftCounts := make([]int, ft.numClasses)
		rightCounts := make([]int, ft.numClasses)
		copy(rightCounts, total)

		for i := 0; i < len(pairs)-1; i++ {
			leftCounts[pairs[i].label]++
			rightCounts[pairs[i].label]--
			if pairs[i].value == pairs[i+1].value {
				continue
			}
			nl := i + 1
			nr := len(pairs) - nl
			impurity := (float64(nl)*gini(leftCounts, nl) + float64(nr)*gini(rightCounts, nr)) / float64(len(pairs))
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = (pairs[i].value + pairs[i+1].value) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func (ft *forestTrainer) classCounts(idx []int) []int {
	counts := make([]int, ft.numClasses)
	for _, i := range idx {
		counts[ft.labels[i]]++
	}
	return counts
}

func (ft *forestTrainer) leaf(counts []int, n int) *treeNode {
	probs := make([]float64, ft.numClasses)
	if n > 0 {
		for c, count := range counts {
			probs[c] = float64(count) / float64(n)
		}
	}
	return &treeNode{Probs: probs}
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		impurity -= p * p
	}
	return impurity
}

// PredictProba returns the averaged class distribution over all trees.
func (f *Forest) PredictProba(vector []float64) []float64 {
	probs := make([]float64, f.NumClasses)
	if len(f.Trees) == 0 {
		return probs
	}
	for _, tree := range f.Trees {
		node := tree
		for node.Probs == nil {
			if vector[node.Feature] <= node.Threshold {
				node = node.Left
			} else {
				node = node.Right
			}
		}
		for c, p := range node.Probs {
			probs[c] += p
		}
	}
	for c := range probs {
		probs[c] /= float64(len(f.Trees))
	}
	return probs
}
