// Package mesh models a fixed logical device mesh and the placement of
// tensors onto it. Policies are declarative: they pick an axis (or
// replication) and the runtime does the splitting. Placement is decided once
// at load time; a placed tensor is read-only afterwards.
package mesh

import (
	"errors"
	"fmt"
)

var (
	// ErrBadAxis reports a sharding constraint naming an axis the tensor
	// does not have.
	ErrBadAxis = errors.New("sharding axis out of range")

	// ErrNotDivisible reports an explicit shard axis whose extent does not
	// divide evenly across the mesh.
	ErrNotDivisible = errors.New("axis extent not divisible by device count")

	// ErrDeviceCount reports a mesh constructed with a non-positive device
	// count.
	ErrDeviceCount = errors.New("device count must be positive")
)

// Mesh is a fixed set of logical devices. The count is declared once and
// never changes; every placement made against the mesh is validated against
// it.
type Mesh struct {
	devices int
}

func New(devices int) (*Mesh, error) {
	if devices <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrDeviceCount, devices)
	}
	return &Mesh{devices: devices}, nil
}

// Devices returns the declared device count.
func (m *Mesh) Devices() int {
	return m.devices
}

func (m *Mesh) String() string {
	return fmt.Sprintf("mesh[%d]", m.devices)
}
