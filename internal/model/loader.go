package model

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-mesh/internal/gguf"
	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/mesh"
	"github.com/23skdu/longbow-mesh/internal/metrics"
)

// Params is the loaded parameter collection: every tensor placed on the mesh
// per the load-time policy. Read-only after Load.
type Params struct {
	TokenEmb   *mesh.Sharded
	OutputNorm *mesh.Sharded
	Output     *mesh.Sharded
	Layers     []LayerParams
}

type LayerParams struct {
	AttnNorm *mesh.Sharded
	AttnQ    *mesh.Sharded
	AttnK    *mesh.Sharded
	AttnV    *mesh.Sharded
	AttnO    *mesh.Sharded
	FfnNorm  *mesh.Sharded
	FfnGate  *mesh.Sharded
	FfnUp    *mesh.Sharded
	FfnDown  *mesh.Sharded
}

// Load reads a GGUF checkpoint and places every parameter on the mesh per
// the policy. Shape or name mismatches against the descriptor fail with the
// offending tensor named; there are no retries.
func Load(path string, m *mesh.Mesh, p mesh.Policy) (*Spec, *Params, error) {
	start := time.Now()

	f, err := gguf.Load(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	spec, err := SpecFromFile(f)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	ld := &loader{file: f, spec: spec, mesh: m, policy: p}

	params := &Params{Layers: make([]LayerParams, spec.Layers)}

	params.TokenEmb, err = ld.place("token_embd.weight", []int{spec.VocabSize, spec.Dim})
	if err != nil {
		return nil, nil, err
	}
	params.OutputNorm, err = ld.place("output_norm.weight", []int{spec.Dim})
	if err != nil {
		return nil, nil, err
	}

	qDim := spec.Heads * spec.HeadDim
	kvDim := spec.KVHeads * spec.HeadDim

	for l := 0; l < spec.Layers; l++ {
		blk := fmt.Sprintf("blk.%d.", l)
		lp := &params.Layers[l]

		fields := []struct {
			dst   **mesh.Sharded
			name  string
			shape []int
		}{
			{&lp.AttnNorm, blk + "attn_norm.weight", []int{spec.Dim}},
			{&lp.AttnQ, blk + "attn_q.weight", []int{qDim, spec.Dim}},
			{&lp.AttnK, blk + "attn_k.weight", []int{kvDim, spec.Dim}},
			{&lp.AttnV, blk + "attn_v.weight", []int{kvDim, spec.Dim}},
			{&lp.AttnO, blk + "attn_output.weight", []int{spec.Dim, qDim}},
			{&lp.FfnNorm, blk + "ffn_norm.weight", []int{spec.Dim}},
			{&lp.FfnGate, blk + "ffn_gate.weight", []int{spec.HiddenDim, spec.Dim}},
			{&lp.FfnUp, blk + "ffn_up.weight", []int{spec.HiddenDim, spec.Dim}},
			{&lp.FfnDown, blk + "ffn_down.weight", []int{spec.Dim, spec.HiddenDim}},
		}
		for _, fld := range fields {
			*fld.dst, err = ld.place(fld.name, fld.shape)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	// output head is often tied to the embedding table
	if f.Tensor("output.weight") != nil {
		params.Output, err = ld.place("output.weight", []int{spec.VocabSize, spec.Dim})
		if err != nil {
			return nil, nil, err
		}
	} else {
		params.Output = params.TokenEmb
		logger.Log.Debug("output head tied to token embedding")
	}

	metrics.RecordLoad(ld.bytes, time.Since(start))
	logger.Log.Info("checkpoint loaded",
		"path", path,
		"arch", spec.Architecture,
		"layers", spec.Layers,
		"dim", spec.Dim,
		"vocab", spec.VocabSize,
		"devices", m.Devices(),
		"policy", p.String(),
		"duration", time.Since(start))

	return spec, params, nil
}

type loader struct {
	file   *gguf.File
	spec   *Spec
	mesh   *mesh.Mesh
	policy mesh.Policy
	bytes  int64
}

// place dequantizes one named tensor, verifies its shape against the
// descriptor and puts it on the mesh. Vectors stay replicated under every
// policy; partitioning a norm weight buys nothing and explicit dim policies
// target the matrices.
func (ld *loader) place(name string, shape []int) (*mesh.Sharded, error) {
	t := ld.file.Tensor(name)
	if t == nil {
		return nil, fmt.Errorf("tensor %s: not present in checkpoint", name)
	}

	if err := checkShape(t, shape); err != nil {
		return nil, err
	}

	data, err := gguf.Dequantize(t)
	if err != nil {
		return nil, err
	}
	ld.bytes += int64(len(data) * 4)

	p := ld.policy
	if len(shape) == 1 {
		p = mesh.Replicate()
	}
	return mesh.Place(ld.mesh, name, shape, data, p)
}

// checkShape compares GGUF dims (fastest-varying first) against the logical
// [rows, cols] shape the descriptor expects.
func checkShape(t *gguf.Tensor, shape []int) error {
	var rows, cols int
	switch len(t.Dimensions) {
	case 1:
		rows, cols = 1, int(t.Dimensions[0])
	default:
		cols = int(t.Dimensions[0])
		rows = 1
		for _, d := range t.Dimensions[1:] {
			rows *= int(d)
		}
	}

	wantRows, wantCols := 1, shape[0]
	if len(shape) == 2 {
		wantRows, wantCols = shape[0], shape[1]
	}

	if rows != wantRows || cols != wantCols {
		return fmt.Errorf("tensor %s: shape [%d %d] does not match expected [%d %d]",
			t.Name, rows, cols, wantRows, wantCols)
	}
	return nil
}
