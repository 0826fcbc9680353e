package mesh

import "fmt"

// Policy decides how a tensor's dimensions map onto the mesh. Decide returns
// the axis to partition, or -1 to replicate. Policies carry no behavior
// beyond this decision; the splitting itself happens in Place.
type Policy interface {
	// Decide picks a partition axis for a tensor of the given shape, or -1
	// for replication. An error marks the constraint as malformed for that
	// shape.
	Decide(m *Mesh, shape []int) (int, error)
	String() string
}

type replicate struct{}

// Replicate places a full copy of the tensor on every device.
func Replicate() Policy { return replicate{} }

func (replicate) Decide(m *Mesh, shape []int) (int, error) { return -1, nil }
func (replicate) String() string                           { return "replicate" }

type shardDim struct{ axis int }

// ShardDim partitions the given axis across all devices. The axis must exist
// and its extent must divide evenly by the device count; anything else is a
// malformed constraint and fails.
func ShardDim(axis int) Policy { return shardDim{axis: axis} }

func (p shardDim) Decide(m *Mesh, shape []int) (int, error) {
	if p.axis < 0 || p.axis >= len(shape) {
		return 0, fmt.Errorf("%w: axis %d, shape %v", ErrBadAxis, p.axis, shape)
	}
	if shape[p.axis]%m.Devices() != 0 {
		return 0, fmt.Errorf("%w: axis %d extent %d, devices %d",
			ErrNotDivisible, p.axis, shape[p.axis], m.Devices())
	}
	return p.axis, nil
}

func (p shardDim) String() string { return fmt.Sprintf("shard(dim=%d)", p.axis) }

type fsdp struct{ minSize int }

// FSDP is the fully-sharded-data-parallel heuristic: partition the largest
// axis that divides evenly by the device count, for tensors of at least
// minSize elements. Small or indivisible tensors fall back to replication.
// FSDP never fails.
func FSDP(minSize int) Policy { return fsdp{minSize: minSize} }

// DefaultFSDPMinSize keeps biases and norm weights replicated.
const DefaultFSDPMinSize = 4096

func (p fsdp) Decide(m *Mesh, shape []int) (int, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size < p.minSize {
		return -1, nil
	}

	best := -1
	for axis, extent := range shape {
		if extent%m.Devices() != 0 {
			continue
		}
		if best < 0 || extent > shape[best] {
			best = axis
		}
	}
	return best, nil
}

func (p fsdp) String() string { return fmt.Sprintf("fsdp(min=%d)", p.minSize) }

// ParsePolicy maps a config string to a policy: "replicate", "fsdp", or
// "shard0"/"shard1".
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "replicate", "":
		return Replicate(), nil
	case "fsdp":
		return FSDP(DefaultFSDPMinSize), nil
	case "shard0":
		return ShardDim(0), nil
	case "shard1":
		return ShardDim(1), nil
	default:
		return nil, fmt.Errorf("unknown sharding policy %q", name)
	}
}
