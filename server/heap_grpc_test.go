package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/chazu/pairvm/vm"
)

// dialBufconn serves the inspector's gRPC server on an in-memory listener
// and returns a client for it.
func dialBufconn(t *testing.T, s *HeapInspector) *HeapClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := s.GRPCServer()
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewHeapClient(conn)
}

func TestGRPC_RoundTrip(t *testing.T) {
	client := dialBufconn(t, newTestInspector(t, vm.WithInitialThreshold(2)))

	if _, err := client.PushInt(bg(), 1); err != nil {
		t.Fatalf("PushInt returned error: %v", err)
	}
	if _, err := client.PushInt(bg(), 2); err != nil {
		t.Fatalf("PushInt returned error: %v", err)
	}
	// Third allocation runs an automatic cycle.
	ref, err := client.PushPair(bg())
	if err != nil {
		t.Fatalf("PushPair returned error: %v", err)
	}

	desc, err := client.Inspect(bg(), ref)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if desc.GetFields()["kind"].GetStringValue() != "pair" {
		t.Errorf("Inspect = %v, want a pair", desc)
	}

	stats, err := client.Stats(bg())
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if got := int(stats.GetFields()["cycles"].GetNumberValue()); got != 1 {
		t.Errorf("cycles = %d, want 1", got)
	}

	popped, err := client.Pop(bg())
	if err != nil || popped != ref {
		t.Errorf("Pop = %q, %v, want %q", popped, err, ref)
	}
	cycle, err := client.Collect(bg())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if got := int(cycle.GetFields()["survivors"].GetNumberValue()); got != 0 {
		t.Errorf("survivors = %d, want 0", got)
	}

	img, err := client.Image(bg())
	if err != nil || len(img) == 0 {
		t.Errorf("Image = %d bytes, %v", len(img), err)
	}
}

func TestGRPC_FatalIsFailedPrecondition(t *testing.T) {
	client := dialBufconn(t, newTestInspector(t, vm.WithStackCapacity(1)))

	if _, err := client.PushInt(bg(), 1); err != nil {
		t.Fatalf("PushInt returned error: %v", err)
	}
	_, err := client.PushInt(bg(), 2)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("overflow code = %v, want FailedPrecondition (%v)", status.Code(err), err)
	}
	if _, err := client.PushPair(bg()); status.Code(err) != codes.FailedPrecondition {
		t.Errorf("underflow code = %v, want FailedPrecondition", status.Code(err))
	}
	if _, err := client.Inspect(bg(), "nope"); status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad ref code = %v, want InvalidArgument", status.Code(err))
	}

	// Still serving.
	if _, err := client.Stats(bg()); err != nil {
		t.Errorf("Stats after fatal returned error: %v", err)
	}
}
