package simd

import "math"

var softmaxImpl func(x []float32)

// Softmax normalizes x in place to a probability distribution.
func Softmax(x []float32) {
	softmaxImpl(x)
}

func init() {
	softmaxImpl = softmaxFallback
}

func softmaxFallback(x []float32) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}

	sum := float32(0)
	for i := range x {
		x[i] = float32(math.Exp(float64(x[i] - max)))
		sum += x[i]
	}

	for i := range x {
		x[i] /= sum
	}
}
