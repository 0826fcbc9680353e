package mesh

import (
	"fmt"

	"github.com/23skdu/longbow-mesh/internal/metrics"
)

// Sharded is a tensor placed on a mesh: the logical shape plus per-device
// shards. Replicated tensors hold a single shard that every device reads.
// Data layout is row-major; only 1-D and 2-D shapes occur in this model
// family.
type Sharded struct {
	Name  string
	Shape []int
	Axis  int // partitioned axis, or -1 for replicated

	mesh   *Mesh
	shards [][]float32
}

// Place splits data across the mesh per the policy. The invariant
// established here is what the rest of the runtime relies on: shard count
// equals the device count for partitioned tensors, or 1 for replicated ones,
// and the shards reassemble exactly to the logical shape.
func Place(m *Mesh, name string, shape []int, data []float32, p Policy) (*Sharded, error) {
	if len(shape) == 0 || len(shape) > 2 {
		return nil, fmt.Errorf("tensor %s: unsupported rank %d", name, len(shape))
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(data) {
		return nil, fmt.Errorf("tensor %s: shape %v holds %d elements, data has %d",
			name, shape, size, len(data))
	}

	axis, err := p.Decide(m, shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	s := &Sharded{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Axis:  axis,
		mesh:  m,
	}

	if axis < 0 {
		s.shards = [][]float32{data}
		metrics.RecordPlacement("replicated", 0, len(data)*4)
		return s, nil
	}

	n := m.Devices()
	s.shards = make([][]float32, n)

	rows, cols := shape[0], 1
	if len(shape) == 2 {
		cols = shape[1]
	}

	switch {
	case axis == 0:
		// contiguous row ranges
		per := rows / n * cols
		for d := 0; d < n; d++ {
			s.shards[d] = data[d*per : (d+1)*per : (d+1)*per]
		}
	case axis == 1:
		// compact column ranges per row
		per := cols / n
		for d := 0; d < n; d++ {
			shard := make([]float32, rows*per)
			for r := 0; r < rows; r++ {
				copy(shard[r*per:(r+1)*per], data[r*cols+d*per:r*cols+(d+1)*per])
			}
			s.shards[d] = shard
		}
	}

	for d := 0; d < n; d++ {
		metrics.RecordPlacement("sharded", d, len(s.shards[d])*4)
	}

	return s, nil
}

// NumShards is the shard count across the partitioned axis: Devices() for
// partitioned tensors, 1 for replicated.
func (s *Sharded) NumShards() int {
	return len(s.shards)
}

// Replicated reports whether every device holds the full tensor.
func (s *Sharded) Replicated() bool {
	return s.Axis < 0
}

// Shard returns device d's piece. For replicated tensors any d returns the
// full data.
func (s *Sharded) Shard(d int) []float32 {
	if s.Replicated() {
		return s.shards[0]
	}
	return s.shards[d]
}

// Rows and Cols describe the logical 2-D view (1-D tensors are a single row).
func (s *Sharded) Rows() int {
	if len(s.Shape) == 2 {
		return s.Shape[0]
	}
	return 1
}

func (s *Sharded) Cols() int {
	if len(s.Shape) == 2 {
		return s.Shape[1]
	}
	return s.Shape[0]
}

// ShardRows and ShardCols describe one shard's extent along each axis.
func (s *Sharded) ShardRows() int {
	if s.Axis == 0 {
		return s.Rows() / s.mesh.Devices()
	}
	return s.Rows()
}

func (s *Sharded) ShardCols() int {
	if s.Axis == 1 {
		return s.Cols() / s.mesh.Devices()
	}
	return s.Cols()
}

// Gather reassembles the logical tensor from its shards. Used by tests and
// the inspect tooling; the forward pass works shard-wise and never gathers
// parameters.
func (s *Sharded) Gather() []float32 {
	if s.Replicated() {
		out := make([]float32, len(s.shards[0]))
		copy(out, s.shards[0])
		return out
	}

	rows, cols := s.Rows(), s.Cols()
	out := make([]float32, rows*cols)
	n := s.mesh.Devices()

	switch s.Axis {
	case 0:
		off := 0
		for d := 0; d < n; d++ {
			off += copy(out[off:], s.shards[d])
		}
	case 1:
		per := cols / n
		for d := 0; d < n; d++ {
			for r := 0; r < rows; r++ {
				copy(out[r*cols+d*per:r*cols+(d+1)*per], s.shards[d][r*per:(r+1)*per])
			}
		}
	}
	return out
}

// SizeBytes is the total bytes held across all shards.
func (s *Sharded) SizeBytes() int {
	total := 0
	for _, sh := range s.shards {
		total += len(sh) * 4
	}
	return total
}

func (s *Sharded) String() string {
	if s.Replicated() {
		return fmt.Sprintf("%s %v replicated", s.Name, s.Shape)
	}
	return fmt.Sprintf("%s %v sharded(axis=%d, shards=%d)", s.Name, s.Shape, s.Axis, s.NumShards())
}

// Tokens is an input token sequence with an explicit device-sharding
// annotation, as required by the direct invocation path. The runtime only
// supports replicated inputs for decoding; a partitioned annotation is
// validated here and honored by batch utilities.
type Tokens struct {
	IDs  []int
	Axis int // -1 replicated

	mesh *Mesh
}

// Constrain applies an explicit sharding constraint to an encoded token
// sequence. The caller owns correctness: a malformed constraint fails, a
// wrong but well-formed one silently places data where the policy says.
func Constrain(m *Mesh, ids []int, p Policy) (*Tokens, error) {
	axis, err := p.Decide(m, []int{len(ids)})
	if err != nil {
		return nil, fmt.Errorf("token sequence: %w", err)
	}
	return &Tokens{
		IDs:  append([]int(nil), ids...),
		Axis: axis,
		mesh: m,
	}, nil
}

// Mesh returns the mesh the tokens were constrained against.
func (t *Tokens) Mesh() *Mesh {
	return t.mesh
}

func (t *Tokens) Len() int {
	return len(t.IDs)
}
