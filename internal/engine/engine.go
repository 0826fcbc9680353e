package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/metrics"
	"github.com/23skdu/longbow-mesh/internal/model"
	"github.com/23skdu/longbow-mesh/internal/simd"
)

// Engine runs the decoder forward pass over mesh-placed parameters. Each
// partitioned matrix-vector product fans out one goroutine per device and
// reassembles the result the way the placement axis dictates: axis-0 shards
// concatenate, axis-1 shards partial-sum.
//
// An Engine holds one decode stream. Step and Apply serialize on an
// internal lock; callers wanting parallel streams create one Engine each
// (parameters are shared and read-only).
type Engine struct {
	spec   *model.Spec
	params *model.Params
	mesh   *mesh.Mesh

	mu    sync.Mutex
	cache *kvCache
}

// ApplyOptions controls the direct invocation path.
type ApplyOptions struct {
	// ReturnLastOnly keeps only the final position's logits.
	ReturnLastOnly bool
}

// Result is the output of a direct forward pass.
type Result struct {
	// Logits holds one vocab-sized row per returned position.
	Logits [][]float32
	// SeqLen is the number of positions processed.
	SeqLen int
}

func New(spec *model.Spec, params *model.Params, m *mesh.Mesh) *Engine {
	e := &Engine{
		spec:   spec,
		params: params,
		mesh:   m,
		cache:  newKVCache(spec.Layers, spec.SeqLen, spec.KVHeads*spec.HeadDim),
	}
	logger.Log.Debug("engine ready",
		"layers", spec.Layers,
		"devices", m.Devices(),
		"kv_cache_bytes", e.cache.sizeBytes())
	return e
}

// Pos is the number of positions currently in the decode stream.
func (e *Engine) Pos() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.length
}

// Reset clears the decode stream.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.reset()
}

// Step feeds one token into the stream and returns the logits over the
// vocabulary for the next position.
func (e *Engine) Step(id int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step(id)
}

// Apply runs the model over a full token sequence from a clean stream and
// returns the logits, all positions or just the last one. The sequence
// carries its own sharding annotation; it must have been constrained
// against the same mesh the parameters live on.
func (e *Engine) Apply(ctx context.Context, toks *mesh.Tokens, opts ApplyOptions) (*Result, error) {
	if toks.Len() == 0 {
		return nil, fmt.Errorf("empty token sequence")
	}
	if toks.Mesh() != nil && toks.Mesh().Devices() != e.mesh.Devices() {
		return nil, fmt.Errorf("token sequence constrained for %d devices, parameters on %d",
			toks.Mesh().Devices(), e.mesh.Devices())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.cache.reset()

	res := &Result{SeqLen: toks.Len()}
	for i, id := range toks.IDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := e.step(id)
		if err != nil {
			return nil, err
		}
		if !opts.ReturnLastOnly || i == toks.Len()-1 {
			res.Logits = append(res.Logits, logits)
		}
	}

	last := res.Logits[len(res.Logits)-1]
	recordLogits(last)
	metrics.RecordForwardPass("direct", time.Since(start))
	metrics.ContextLengthHistogram.Observe(float64(toks.Len()))

	return res, nil
}

// step runs one decoder pass. Caller holds e.mu.
func (e *Engine) step(id int) ([]float32, error) {
	s := e.spec
	if id < 0 || id >= s.VocabSize {
		return nil, fmt.Errorf("token id %d out of vocabulary range [0, %d)", id, s.VocabSize)
	}
	pos := e.cache.length
	if pos >= s.SeqLen {
		return nil, fmt.Errorf("context length %d exceeded", s.SeqLen)
	}

	x := e.embedRow(id)

	for l := range e.params.Layers {
		lp := &e.params.Layers[l]

		h := rmsnorm(x, lp.AttnNorm.Shard(0), s.Eps)

		q := e.matvec(lp.AttnQ, h)
		k := e.matvec(lp.AttnK, h)
		v := e.matvec(lp.AttnV, h)

		for hd := 0; hd < s.Heads; hd++ {
			rope(q[hd*s.HeadDim:(hd+1)*s.HeadDim], pos, s.RopeTheta)
		}
		for hd := 0; hd < s.KVHeads; hd++ {
			rope(k[hd*s.HeadDim:(hd+1)*s.HeadDim], pos, s.RopeTheta)
		}

		if err := e.cache.put(l, pos, k, v); err != nil {
			return nil, err
		}

		attn := e.attention(l, q, pos)
		o := e.matvec(lp.AttnO, attn)
		for i := range x {
			x[i] += o[i]
		}

		h2 := rmsnorm(x, lp.FfnNorm.Shard(0), s.Eps)
		gate := e.matvec(lp.FfnGate, h2)
		up := e.matvec(lp.FfnUp, h2)
		act := make([]float32, len(gate))
		simd.GeluGate(gate, up, act)
		down := e.matvec(lp.FfnDown, act)
		for i := range x {
			x[i] += down[i]
		}
	}

	e.cache.length++

	h := rmsnorm(x, e.params.OutputNorm.Shard(0), s.Eps)
	logits := e.matvec(e.params.Output, h)
	metrics.InferenceTokensTotal.Inc()
	return logits, nil
}

// embedRow fetches one embedding table row across whatever placement the
// table has, scaled by the architecture's embedding multiplier.
func (e *Engine) embedRow(id int) []float32 {
	emb := e.params.TokenEmb
	dim := emb.Cols()
	out := make([]float32, dim)

	switch {
	case emb.Replicated():
		copy(out, emb.Shard(0)[id*dim:(id+1)*dim])
	case emb.Axis == 0:
		sr := emb.ShardRows()
		copy(out, emb.Shard(id/sr)[(id%sr)*dim:(id%sr+1)*dim])
	default: // axis 1, row split column-wise across devices
		sc := emb.ShardCols()
		for d := 0; d < e.mesh.Devices(); d++ {
			copy(out[d*sc:(d+1)*sc], emb.Shard(d)[id*sc:(id+1)*sc])
		}
	}

	for i := range out {
		out[i] *= e.spec.EmbScale
	}
	return out
}

// matvec computes w·x with one goroutine per device shard.
func (e *Engine) matvec(w *mesh.Sharded, x []float32) []float32 {
	rows, cols := w.Rows(), w.Cols()
	out := make([]float32, rows)

	if w.Replicated() {
		shard := w.Shard(0)
		for r := 0; r < rows; r++ {
			out[r] = simd.Dot(shard[r*cols:(r+1)*cols], x)
		}
		return out
	}

	n := e.mesh.Devices()
	var wg sync.WaitGroup

	switch w.Axis {
	case 0:
		sr := w.ShardRows()
		for d := 0; d < n; d++ {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				shard := w.Shard(d)
				for r := 0; r < sr; r++ {
					out[d*sr+r] = simd.Dot(shard[r*cols:(r+1)*cols], x)
				}
			}(d)
		}
		wg.Wait()
	default:
		sc := w.ShardCols()
		partials := make([][]float32, n)
		for d := 0; d < n; d++ {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				shard := w.Shard(d)
				xd := x[d*sc : (d+1)*sc]
				p := make([]float32, rows)
				for r := 0; r < rows; r++ {
					p[r] = simd.Dot(shard[r*sc:(r+1)*sc], xd)
				}
				partials[d] = p
			}(d)
		}
		wg.Wait()
		for d := 0; d < n; d++ {
			for r := range out {
				out[r] += partials[d][r]
			}
		}
	}
	return out
}

// attention computes causal grouped-query attention for one layer over the
// cached positions 0..pos.
func (e *Engine) attention(layer int, q []float32, pos int) []float32 {
	s := e.spec
	group := s.Heads / s.KVHeads
	scale := float32(1.0 / math.Sqrt(float64(s.HeadDim)))

	out := make([]float32, s.Heads*s.HeadDim)
	scores := make([]float32, pos+1)

	for hd := 0; hd < s.Heads; hd++ {
		qh := q[hd*s.HeadDim : (hd+1)*s.HeadDim]
		kvh := hd / group

		for t := 0; t <= pos; t++ {
			k, _ := e.cache.at(layer, t)
			scores[t] = simd.Dot(qh, k[kvh*s.HeadDim:(kvh+1)*s.HeadDim]) * scale
		}
		simd.Softmax(scores)

		oh := out[hd*s.HeadDim : (hd+1)*s.HeadDim]
		for t := 0; t <= pos; t++ {
			_, v := e.cache.at(layer, t)
			vh := v[kvh*s.HeadDim : (kvh+1)*s.HeadDim]
			for i := range oh {
				oh[i] += scores[t] * vh[i]
			}
		}
	}
	return out
}

func rmsnorm(x, w []float32, eps float32) []float32 {
	var ss float64
	for _, v := range x {
		ss += float64(v) * float64(v)
	}
	inv := float32(1.0 / math.Sqrt(ss/float64(len(x))+float64(eps)))

	out := make([]float32, len(x))
	for i := range x {
		out[i] = x[i] * inv * w[i]
	}
	return out
}

// rope applies rotary position embedding to one head vector, pairing
// dimension i with i+headDim/2.
func rope(v []float32, pos int, theta float32) {
	half := len(v) / 2
	for i := 0; i < half; i++ {
		freq := math.Pow(float64(theta), -2*float64(i)/float64(len(v)))
		angle := float64(pos) * freq
		sin, cos := math.Sincos(angle)

		a, b := float64(v[i]), float64(v[i+half])
		v[i] = float32(a*cos - b*sin)
		v[i+half] = float32(a*sin + b*cos)
	}
}

func recordLogits(logits []float32) {
	metrics.RecordLogits(logits)
	for _, v := range logits {
		if v != v {
			logger.Log.Warn("logits contain NaN")
			return
		}
	}
}
