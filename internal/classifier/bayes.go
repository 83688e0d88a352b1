package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GaussianNB is a gaussian naive bayes classifier. It pairs with the forest
// as the second, structurally different model family of the ensemble so the
// two do not share failure modes.
type GaussianNB struct {
	Priors     []float64   `json:"priors"`
	Means      [][]float64 `json:"means"`
	Variances  [][]float64 `json:"variances"`
	NumClasses int         `json:"num_classes"`
}

// FitGaussianNB estimates per-class feature means, variances, and priors.
func FitGaussianNB(samples [][]float64, labels []int, numClasses int) *GaussianNB {
	numFeatures := 0
	if len(samples) > 0 {
		numFeatures = len(samples[0])
	}

	nb := &GaussianNB{
		Priors:     make([]float64, numClasses),
		Means:      make([][]float64, numClasses),
		Variances:  make([][]float64, numClasses),
		NumClasses: numClasses,
	}
	counts := make([]int, numClasses)
	for c := 0; c < numClasses; c++ {
		nb.Means[c] = make([]float64, numFeatures)
		nb.Variances[c] = make([]float64, numFeatures)
	}

	for i, sample := range samples {
		c := labels[i]
		counts[c]++
		floats.Add(nb.Means[c], sample)
	}
	for c := 0; c < numClasses; c++ {
		if counts[c] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[c]), nb.Means[c])
		nb.Priors[c] = float64(counts[c]) / float64(len(samples))
	}

	for i, sample := range samples {
		c := labels[i]
		for f, v := range sample {
			d := v - nb.Means[c][f]
			nb.Variances[c][f] += d * d
		}
	}

	// Variance smoothing keeps degenerate (constant) features from
	// producing infinite likelihoods.
	const epsilon = 1e-9
	for c := 0; c < numClasses; c++ {
		for f := range nb.Variances[c] {
			if counts[c] > 0 {
				nb.Variances[c][f] /= float64(counts[c])
			}
			nb.Variances[c][f] += epsilon
		}
	}

	return nb
}

// PredictProba returns normalized class probabilities via exp-normalized
// log likelihoods.
func (nb *GaussianNB) PredictProba(vector []float64) []float64 {
	logProbs := make([]float64, nb.NumClasses)
	for c := 0; c < nb.NumClasses; c++ {
		if nb.Priors[c] == 0 {
			logProbs[c] = math.Inf(-1)
			continue
		}
		lp := math.Log(nb.Priors[c])
		for f, v := range vector {
			variance := nb.Variances[c][f]
			d := v - nb.Means[c][f]
			lp += -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
		}
		logProbs[c] = lp
	}

	max := floats.Max(logProbs)
	if math.IsInf(max, -1) {
		uniform := make([]float64, nb.NumClasses)
		for c := range uniform {
			uniform[c] = 1 / float64(nb.NumClasses)
		}
		return uniform
	}

	probs := make([]float64, nb.NumClasses)
	sum := 0.0
	for c, lp := range logProbs {
		probs[c] = math.Exp(lp - max)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}
	return probs
}
