package mesh

import (
	"errors"
	"testing"
)

func TestNewMesh(t *testing.T) {
	m, err := New(8)
	if err != nil {
		t.Fatalf("New(8): %v", err)
	}
	if m.Devices() != 8 {
		t.Errorf("devices: got %d", m.Devices())
	}

	for _, bad := range []int{0, -1} {
		if _, err := New(bad); !errors.Is(err, ErrDeviceCount) {
			t.Errorf("New(%d): expected ErrDeviceCount, got %v", bad, err)
		}
	}
}

func TestPlaceShardCounts(t *testing.T) {
	m, _ := New(8)

	tests := []struct {
		name       string
		shape      []int
		policy     Policy
		wantShards int
		wantAxis   int
	}{
		{"replicated", []int{16, 8}, Replicate(), 1, -1},
		{"shard rows", []int{16, 8}, ShardDim(0), 8, 0},
		{"shard cols", []int{16, 8}, ShardDim(1), 8, 1},
		{"fsdp large", []int{512, 16}, FSDP(4096), 8, 0},
		{"fsdp small falls back", []int{16, 8}, FSDP(4096), 1, -1},
		{"fsdp indivisible falls back", []int{7, 5}, FSDP(1), 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.shape[0] * tt.shape[1]
			s, err := Place(m, tt.name, tt.shape, seq(size), tt.policy)
			if err != nil {
				t.Fatalf("place: %v", err)
			}
			if s.NumShards() != tt.wantShards {
				t.Errorf("shards: got %d, want %d", s.NumShards(), tt.wantShards)
			}
			if s.Axis != tt.wantAxis {
				t.Errorf("axis: got %d, want %d", s.Axis, tt.wantAxis)
			}
		})
	}
}

// Every placement must reassemble to the original data, whatever the axis.
func TestGatherRoundTrip(t *testing.T) {
	m, _ := New(4)
	data := seq(12 * 8)

	for _, p := range []Policy{Replicate(), ShardDim(0), ShardDim(1), FSDP(1)} {
		s, err := Place(m, "w", []int{12, 8}, data, p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		got := s.Gather()
		if len(got) != len(data) {
			t.Fatalf("%s: gathered %d elements", p, len(got))
		}
		for i := range data {
			if got[i] != data[i] {
				t.Fatalf("%s: element %d: got %v, want %v", p, i, got[i], data[i])
			}
		}
	}
}

func TestShardContents(t *testing.T) {
	m, _ := New(2)
	// 4x4: rows 0..3
	s, err := Place(m, "w", []int{4, 4}, seq(16), ShardDim(0))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Shard(1)[0]; got != 8 {
		t.Errorf("device 1 first element: got %v, want 8", got)
	}
	if s.ShardRows() != 2 || s.ShardCols() != 4 {
		t.Errorf("shard extent: got %dx%d", s.ShardRows(), s.ShardCols())
	}

	// column split: device 1 holds cols 2,3 of each row
	s, err = Place(m, "w", []int{4, 4}, seq(16), ShardDim(1))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Shard(1)[0]; got != 2 {
		t.Errorf("device 1 first element: got %v, want 2", got)
	}
	if s.ShardRows() != 4 || s.ShardCols() != 2 {
		t.Errorf("shard extent: got %dx%d", s.ShardRows(), s.ShardCols())
	}
}

func TestMalformedConstraints(t *testing.T) {
	m, _ := New(8)

	if _, err := Place(m, "w", []int{16, 8}, seq(128), ShardDim(2)); !errors.Is(err, ErrBadAxis) {
		t.Errorf("axis out of range: got %v", err)
	}
	if _, err := Place(m, "w", []int{10, 8}, seq(80), ShardDim(0)); !errors.Is(err, ErrNotDivisible) {
		t.Errorf("indivisible axis: got %v", err)
	}
	if _, err := Place(m, "w", []int{16, 8}, seq(100), Replicate()); err == nil {
		t.Error("shape/data mismatch: expected error")
	}
}

func TestConstrainTokens(t *testing.T) {
	m, _ := New(8)

	toks, err := Constrain(m, []int{2, 105, 17, 3942}, Replicate())
	if err != nil {
		t.Fatalf("constrain: %v", err)
	}
	if toks.Axis != -1 {
		t.Errorf("axis: got %d", toks.Axis)
	}
	if toks.Len() != 4 {
		t.Errorf("len: got %d", toks.Len())
	}
	if toks.Mesh() != m {
		t.Error("mesh not carried")
	}

	// partitioned tokens must divide by device count
	if _, err := Constrain(m, []int{1, 2, 3}, ShardDim(0)); !errors.Is(err, ErrNotDivisible) {
		t.Errorf("expected ErrNotDivisible, got %v", err)
	}
	if _, err := Constrain(m, make([]int, 16), ShardDim(0)); err != nil {
		t.Errorf("divisible sharded tokens: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"replicate", "replicate", false},
		{"", "replicate", false},
		{"fsdp", "fsdp(min=4096)", false},
		{"shard0", "shard(dim=0)", false},
		{"shard1", "shard(dim=1)", false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		p, err := ParsePolicy(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if p.String() != tt.want {
			t.Errorf("%q: got %s, want %s", tt.in, p, tt.want)
		}
	}
}

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}
