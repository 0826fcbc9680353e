package flight

import (
	"context"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func TestNewExporterDefaults(t *testing.T) {
	e := NewExporter("localhost", 0)
	if e.addr != "localhost:3000" {
		t.Errorf("addr = %q", e.addr)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	e := NewExporter("localhost", 3000)
	err := e.PublishLogits(context.Background(), []int64{0}, [][]float32{{1, 2}})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("expected not-connected error, got %v", err)
	}
}

func TestLogitsRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	rows := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	}
	rec, err := newLogitsRecord(mem, []int64{7, 8}, rows)
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Release()

	if rec.NumRows() != 2 || rec.NumCols() != 2 {
		t.Fatalf("record is %dx%d", rec.NumRows(), rec.NumCols())
	}

	steps := rec.Column(0).(*array.Int64)
	if steps.Value(0) != 7 || steps.Value(1) != 8 {
		t.Errorf("step column wrong: %v", steps)
	}

	list := rec.Column(1).(*array.FixedSizeList)
	if list.DataType().(*arrow.FixedSizeListType).Len() != 3 {
		t.Errorf("vector width = %d", list.DataType().(*arrow.FixedSizeListType).Len())
	}
	vals := list.ListValues().(*array.Float32)
	if vals.Value(0) != 0.1 || vals.Value(5) != 0.6 {
		t.Errorf("flattened values wrong")
	}
}

func TestLogitsRecordErrors(t *testing.T) {
	mem := memory.DefaultAllocator

	if _, err := newLogitsRecord(mem, nil, nil); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := newLogitsRecord(mem, []int64{1}, [][]float32{{1}, {2}}); err == nil {
		t.Error("expected error for step/row count mismatch")
	}
	if _, err := newLogitsRecord(mem, []int64{1, 2}, [][]float32{{1, 2}, {3}}); err == nil {
		t.Error("expected error for ragged rows")
	}
}
