package trainer

import (
	"strings"
	"testing"

	"github.com/23skdu/longbow-mesh/internal/mesh"
)

func TestNormalizeDefaults(t *testing.T) {
	c := (&Config{Checkpoint: "m.gguf", Devices: 8, LearningRate: 1e-4, Steps: 10}).Normalize()

	if c.ParamPolicy == nil || c.OptStatePolicy == nil {
		t.Fatal("policies not defaulted")
	}
	if c.ParamPolicy.String() != c.OptStatePolicy.String() {
		t.Errorf("optimizer policy should inherit param policy, got %s vs %s",
			c.ParamPolicy, c.OptStatePolicy)
	}
	if c.BatchSize != 1 {
		t.Errorf("batch size = %d", c.BatchSize)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("normalized config invalid: %v", err)
	}
}

func TestSeparateOptimizerPlacement(t *testing.T) {
	c := (&Config{
		Checkpoint:     "m.gguf",
		Devices:        8,
		ParamPolicy:    mesh.Replicate(),
		OptStatePolicy: mesh.ShardDim(0),
		LearningRate:   1e-4,
		Steps:          1,
	}).Normalize()

	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.ParamPolicy.String() == c.OptStatePolicy.String() {
		t.Error("explicit optimizer policy overwritten")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		c    Config
		want string
	}{
		{"no checkpoint", Config{Devices: 8, LearningRate: 1e-4, Steps: 1}, "checkpoint"},
		{"bad devices", Config{Checkpoint: "m", Devices: 0, LearningRate: 1e-4, Steps: 1}, "device"},
		{"bad lr", Config{Checkpoint: "m", Devices: 8, Steps: 1}, "learning rate"},
		{"bad steps", Config{Checkpoint: "m", Devices: 8, LearningRate: 1e-4}, "step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Normalize().Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}
