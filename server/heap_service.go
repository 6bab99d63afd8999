package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/pairvm/vm"
)

var log = commonlog.GetLogger("pairvm.server")

var (
	errInvalidArgument = errors.New("invalid argument")
	errNotFound        = errors.New("not found")
)

// HeapServer is the pairvm.v1.HeapService contract shared by the Connect
// handlers and the gRPC service descriptor.
type HeapServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Collect(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PushInt(context.Context, *wrapperspb.Int64Value) (*wrapperspb.StringValue, error)
	PushPair(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Pop(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Inspect(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Image(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// HeapService exposes one VM's heap. Every call runs on the worker.
type HeapService struct {
	worker *VMWorker
}

var _ HeapServer = (*HeapService)(nil)

// NewHeapService creates a HeapService.
func NewHeapService(worker *VMWorker) *HeapService {
	return &HeapService{worker: worker}
}

// Stats summarizes the heap and stack.
func (s *HeapService) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	result, err := s.do("Stats", func(v *vm.VM) interface{} {
		return v.Stats()
	})
	if err != nil {
		return nil, err
	}
	st := result.(vm.HeapStats)
	return structpb.NewStruct(map[string]interface{}{
		"heap_id":   st.ID,
		"objects":   st.Objects,
		"ints":      st.Ints,
		"pairs":     st.Pairs,
		"threshold": st.Threshold,
		"limit":     st.Limit,
		"depth":     st.Depth,
		"stack_cap": st.StackCap,
		"cycles":    st.Cycles,
	})
}

// Collect runs a forced cycle and returns its stats.
func (s *HeapService) Collect(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	result, err := s.do("Collect", func(v *vm.VM) interface{} {
		return v.GC()
	})
	if err != nil {
		return nil, err
	}
	return cycleStruct(result.(vm.GCStats))
}

// PushInt allocates an integer, pushes it and returns its ref.
func (s *HeapService) PushInt(ctx context.Context, req *wrapperspb.Int64Value) (*wrapperspb.StringValue, error) {
	result, err := s.do("PushInt", func(v *vm.VM) interface{} {
		return v.PushInt(req.GetValue())
	})
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(result.(vm.Ref).String()), nil
}

// PushPair pairs the top two stack entries.
func (s *HeapService) PushPair(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	result, err := s.do("PushPair", func(v *vm.VM) interface{} {
		return v.PushPair()
	})
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(result.(vm.Ref).String()), nil
}

// Pop removes the top stack entry and returns its ref.
func (s *HeapService) Pop(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	result, err := s.do("Pop", func(v *vm.VM) interface{} {
		return v.Pop()
	})
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(result.(vm.Ref).String()), nil
}

// Inspect describes the live object a ref denotes.
func (s *HeapService) Inspect(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	r, err := vm.ParseRef(req.GetValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidArgument, err)
	}

	result, err := s.do("Inspect", func(v *vm.VM) interface{} {
		if !v.IsLive(r) {
			return nil
		}
		fields := map[string]interface{}{
			"ref":  r.String(),
			"kind": v.Kind(r).String(),
		}
		switch v.Kind(r) {
		case vm.KindInt:
			fields["value"] = v.Int(r)
		case vm.KindPair:
			fields["head"] = v.Head(r).String()
			fields["tail"] = v.Tail(r).String()
		}
		return fields
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s is not a live object", errNotFound, r)
	}
	return structpb.NewStruct(result.(map[string]interface{}))
}

// Image returns the CBOR heap image.
func (s *HeapService) Image(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	type imageResult struct {
		data []byte
		err  error
	}
	result, err := s.do("Image", func(v *vm.VM) interface{} {
		data, err := v.MarshalImage()
		return imageResult{data, err}
	})
	if err != nil {
		return nil, err
	}
	img := result.(imageResult)
	if img.err != nil {
		return nil, img.err
	}
	return wrapperspb.Bytes(img.data), nil
}

func (s *HeapService) do(method string, fn func(*vm.VM) interface{}) (interface{}, error) {
	result, err := s.worker.Do(fn)
	if err != nil {
		log.Warning("request failed", "method", method, "error", err.Error())
		return nil, err
	}
	return result, nil
}

func cycleStruct(st vm.GCStats) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"cycle":       st.Cycle,
		"trigger":     st.Trigger.String(),
		"before":      st.Before,
		"marked":      st.Marked,
		"swept":       st.Swept,
		"survivors":   st.Survivors,
		"threshold":   st.Threshold,
		"duration_ns": st.Duration.Nanoseconds(),
	})
}

// errorCode classifies a HeapService error. Connect codes share gRPC's
// numbering, so the same code serves both transports.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, errInvalidArgument):
		return connect.CodeInvalidArgument
	case errors.Is(err, errNotFound):
		return connect.CodeNotFound
	case errors.Is(err, ErrWorkerStopped):
		return connect.CodeUnavailable
	case errors.Is(err, vm.ErrShutdown):
		return connect.CodeFailedPrecondition
	}
	if _, ok := vm.AsFatal(err); ok {
		return connect.CodeFailedPrecondition
	}
	return connect.CodeInternal
}
