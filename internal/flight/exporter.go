// Package flight streams logits record batches to an external Arrow Flight
// collector. The export path is best effort and sits outside the decode
// loop; a failed publish never fails a generation.
package flight

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-mesh/internal/logger"
)

const DefaultPort = 3000

// Exporter is an Arrow Flight DoPut client publishing per-step logits.
type Exporter struct {
	addr    string
	timeout time.Duration
	client  flight.Client
}

func NewExporter(host string, port int) *Exporter {
	if port <= 0 {
		port = DefaultPort
	}
	return &Exporter{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

// Connect dials the collector.
func (e *Exporter) Connect(_ context.Context) error {
	client, err := flight.NewClientWithMiddleware(e.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("flight client %s: %w", e.addr, err)
	}
	e.client = client
	logger.Log.Debug("flight exporter connected", "addr", e.addr)
	return nil
}

func (e *Exporter) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// logitsSchema builds the wire schema: a step counter plus a fixed-width
// float32 vector.
func logitsSchema(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "step", Type: arrow.PrimitiveTypes.Int64},
		{Name: "logits", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// newLogitsRecord assembles one record batch. steps and rows must be the
// same length and every row the same width.
func newLogitsRecord(mem memory.Allocator, steps []int64, rows [][]float32) (arrow.Record, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no logits rows")
	}
	if len(steps) != len(rows) {
		return nil, fmt.Errorf("%d steps for %d rows", len(steps), len(rows))
	}
	dim := len(rows[0])

	bld := array.NewRecordBuilder(mem, logitsSchema(dim))
	defer bld.Release()

	stepB := bld.Field(0).(*array.Int64Builder)
	listB := bld.Field(1).(*array.FixedSizeListBuilder)
	valB := listB.ValueBuilder().(*array.Float32Builder)

	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), dim)
		}
		stepB.Append(steps[i])
		listB.Append(true)
		valB.AppendValues(row, nil)
	}

	return bld.NewRecord(), nil
}

// PublishLogits sends one batch of per-step logits via DoPut under the
// "logits" descriptor path.
func (e *Exporter) PublishLogits(ctx context.Context, steps []int64, rows [][]float32) error {
	if e.client == nil {
		return fmt.Errorf("flight exporter not connected")
	}

	rec, err := newLogitsRecord(memory.DefaultAllocator, steps, rows)
	if err != nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stream, err := e.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("flight DoPut: %w", err)
	}

	wr := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	wr.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"logits"},
	})
	if err := wr.Write(rec); err != nil {
		return fmt.Errorf("flight write: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("flight close: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("flight close send: %w", err)
	}

	logger.Log.Debug("published logits", "rows", rec.NumRows(), "dim", len(rows[0]))
	return nil
}
