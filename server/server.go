package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/grpc"

	"github.com/chazu/pairvm/vm"
)

// HeapInspector serves one VM's HeapService over Connect (HTTP/JSON and
// binary), and over plain gRPC through GRPCServer.
type HeapInspector struct {
	worker  *VMWorker
	service *HeapService
	mux     *http.ServeMux
	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// New creates a HeapInspector wrapping the given VM. The VM must not be
// used directly while the inspector is running.
func New(v *vm.VM) *HeapInspector {
	worker := NewVMWorker(v)
	s := &HeapInspector{
		worker:  worker,
		service: NewHeapService(worker),
		mux:     http.NewServeMux(),
	}

	path, handler := NewHeapServiceHandler(s.service)
	s.mux.Handle(path, handler)

	// Cleartext HTTP/2 lets gRPC clients reach the Connect handlers too.
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	s.httpSrv = &http.Server{Handler: s.mux, Protocols: &protocols}

	return s
}

// Handler returns the HTTP handler serving the Connect endpoints.
func (s *HeapInspector) Handler() http.Handler {
	return s.mux
}

// Service returns the heap service.
func (s *HeapInspector) Service() *HeapService {
	return s.service
}

// Worker returns the worker that owns the VM.
func (s *HeapInspector) Worker() *VMWorker {
	return s.worker
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *HeapInspector) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Noticef("heap inspector listening on %s", l.Addr())
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", l.Addr(), HeapServiceStatsProcedure)
	return s.Serve(l)
}

// Serve accepts HTTP connections on l until Shutdown.
func (s *HeapInspector) Serve(l net.Listener) error {
	err := s.httpSrv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// GRPCServer returns a grpc.Server with the heap service registered,
// creating it on first use.
func (s *HeapInspector) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	if s.grpcSrv == nil {
		s.grpcSrv = grpc.NewServer(opts...)
		RegisterHeapServer(s.grpcSrv, s.service)
	}
	return s.grpcSrv
}

// Shutdown stops the servers and the worker. The VM is left to the caller.
func (s *HeapInspector) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	s.worker.Stop()
	return err
}
