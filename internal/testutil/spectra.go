package testutil

import (
	"math"
	"math/rand"
)

// Grid returns n evenly spaced wavenumbers from start to stop inclusive.
// stop may be below start for the usual descending FTIR layout.
func Grid(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// Ramp evaluates offset + slope*x over x.
func Ramp(x []float64, offset, slope float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = offset + slope*v
	}
	return out
}

// Gaussian evaluates height*exp(-(x-center)²/(2σ²)) over x.
func Gaussian(x []float64, center, height, sigma float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		d := v - center
		out[i] = height * math.Exp(-d*d/(2*sigma*sigma))
	}
	return out
}

// Add returns the element-wise sum of equally long slices.
func Add(series ...[]float64) []float64 {
	if len(series) == 0 {
		return nil
	}
	out := make([]float64, len(series[0]))
	for _, s := range series {
		for i := range out {
			out[i] += s[i]
		}
	}
	return out
}

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}
