package classifier

import "gonum.org/v1/gonum/stat"

// StandardScaler centers each feature column to zero mean and unit variance.
// Fitted once at training time; the same transform must be applied at
// inference or model inputs drift.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column mean and standard deviation.
func FitScaler(samples [][]float64) *StandardScaler {
	if len(samples) == 0 {
		return &StandardScaler{}
	}
	cols := len(samples[0])
	scaler := &StandardScaler{
		Mean: make([]float64, cols),
		Std:  make([]float64, cols),
	}
	column := make([]float64, len(samples))
	for c := 0; c < cols; c++ {
		for r := range samples {
			column[r] = samples[r][c]
		}
		scaler.Mean[c] = stat.Mean(column, nil)
		std := stat.StdDev(column, nil)
		// Constant columns scale to zero rather than NaN.
		if std == 0 || std != std {
			std = 1
		}
		scaler.Std[c] = std
	}
	return scaler
}

// Transform scales one vector. Vectors wider than the fitted column count
// are truncated; never happens when extractor and scaler share a schema.
func (s *StandardScaler) Transform(vector []float64) []float64 {
	out := make([]float64, len(s.Mean))
	for i := range out {
		if i < len(vector) {
			out[i] = (vector[i] - s.Mean[i]) / s.Std[i]
		}
	}
	return out
}

// TransformAll scales a batch of vectors.
func (s *StandardScaler) TransformAll(vectors [][]float64) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		out[i] = s.Transform(v)
	}
	return out
}
