// Package trainer holds the fine-tuning configuration surface. The actual
// optimization loop runs elsewhere; this package only validates how a run
// would place its state on the mesh.
package trainer

import (
	"fmt"

	"github.com/23skdu/longbow-mesh/internal/mesh"
)

// Config describes a fine-tuning run. The sharding strategies are
// injectable so parameter and optimizer-state placement can differ: a
// common arrangement replicates parameters and fully shards optimizer
// moments.
type Config struct {
	Checkpoint string
	Devices    int

	// ParamPolicy places model parameters; nil means fully-sharded with
	// the default size cutoff.
	ParamPolicy mesh.Policy
	// OptStatePolicy places optimizer state; nil inherits ParamPolicy.
	OptStatePolicy mesh.Policy

	LearningRate float64
	BatchSize    int
	Steps        int
}

// Normalize fills defaulted fields in place and returns the config for
// chaining.
func (c *Config) Normalize() *Config {
	if c.ParamPolicy == nil {
		c.ParamPolicy = mesh.FSDP(mesh.DefaultFSDPMinSize)
	}
	if c.OptStatePolicy == nil {
		c.OptStatePolicy = c.ParamPolicy
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	return c
}

func (c *Config) Validate() error {
	if c.Checkpoint == "" {
		return fmt.Errorf("trainer: checkpoint is required")
	}
	if c.Devices <= 0 {
		return fmt.Errorf("trainer: invalid device count %d", c.Devices)
	}
	if c.ParamPolicy == nil || c.OptStatePolicy == nil {
		return fmt.Errorf("trainer: config not normalized")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("trainer: invalid learning rate %g", c.LearningRate)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("trainer: invalid batch size %d", c.BatchSize)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("trainer: invalid step count %d", c.Steps)
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("trainer(ckpt=%s devices=%d params=%s opt=%s lr=%g batch=%d steps=%d)",
		c.Checkpoint, c.Devices, c.ParamPolicy, c.OptStatePolicy,
		c.LearningRate, c.BatchSize, c.Steps)
}
