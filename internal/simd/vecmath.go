package simd

import "math"

var (
	dotImpl      func(a, b []float32) float32
	geluGateImpl func(gate, up, out []float32)
)

func init() {
	dotImpl = dotFallback
	geluGateImpl = geluGateFallback
}

// Dot is the inner product of a and b. Lengths must match.
func Dot(a, b []float32) float32 {
	return dotImpl(a, b)
}

// GeluGate computes out[i] = gelu(gate[i]) * up[i], the gated feed-forward
// activation. Uses the tanh approximation.
func GeluGate(gate, up, out []float32) {
	geluGateImpl(gate, up, out)
}

func dotFallback(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func geluGateFallback(gate, up, out []float32) {
	const (
		c  = 0.7978845608028654 // sqrt(2/pi)
		c3 = 0.044715
	)
	for i := range gate {
		x := float64(gate[i])
		g := 0.5 * x * (1 + math.Tanh(c*(x+c3*x*x*x)))
		out[i] = float32(g) * up[i]
	}
}
