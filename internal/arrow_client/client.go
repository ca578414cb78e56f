package arrow_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/quarrel-gemm/internal/logger"
)

// DefaultPath is the descriptor path results are uploaded under.
const DefaultPath = "matmul_bench"

var ErrNotConnected = errors.New("client not connected, call Connect() first")

// FlightClient uploads benchmark record batches to an Arrow Flight server.
type FlightClient struct {
	client  flight.Client
	addr    string
	path    []string
	timeout time.Duration
}

// NewFlightClient creates a client for addr (host:port). Connect must be
// called before DoPut.
func NewFlightClient(addr string, path ...string) (*FlightClient, error) {
	if addr == "" {
		return nil, errors.New("flight address is empty")
	}
	if len(path) == 0 {
		path = []string{DefaultPath}
	}
	return &FlightClient{
		addr:    addr,
		path:    path,
		timeout: 30 * time.Second,
	}, nil
}

// Connect dials the Flight server.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

// Close disconnects from the Flight server.
func (fc *FlightClient) Close() error {
	if fc.client != nil {
		err := fc.client.Close()
		fc.client = nil
		return err
	}
	return nil
}

// DoPut streams rec to the server under the client's descriptor path and
// waits for the server to finish acknowledging it.
func (fc *FlightClient) DoPut(ctx context.Context, rec arrow.Record) error {
	if fc.client == nil {
		return ErrNotConnected
	}
	if rec == nil {
		return errors.New("no record provided")
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: fc.path,
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}

	acks := 0
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("DoPut failed: %w", err)
		}
		acks++
	}

	logger.Log.With("flight").Debug("Uploaded results",
		"addr", fc.addr, "rows", rec.NumRows(), "acks", acks)
	return nil
}

// Export connects, uploads rec and disconnects.
func Export(ctx context.Context, addr string, rec arrow.Record) error {
	fc, err := NewFlightClient(addr)
	if err != nil {
		return err
	}
	if err := fc.Connect(ctx); err != nil {
		return err
	}
	defer fc.Close()
	return fc.DoPut(ctx, rec)
}
