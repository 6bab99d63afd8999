// pairvm CLI - runs the collector demonstrations and serves heap inspection
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/pairvm/config"
	"github.com/chazu/pairvm/journal"
	"github.com/chazu/pairvm/server"
	"github.com/chazu/pairvm/vm"
)

func main() {
	configPath := flag.String("config", "", "Path to pairvm.toml (default: search upward from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output")
	runScenarios := flag.Bool("scenarios", false, "Run the collector demonstration scenarios (default when nothing else is requested)")
	imagePath := flag.String("image", "", "Write the heap image of the last scenario to this file")
	journalPath := flag.String("journal", "", "Record every collection cycle in this SQLite database")
	serveMode := flag.Bool("serve", false, "Start the heap inspection server (Connect HTTP/JSON + gRPC)")
	servePort := flag.Int("port", 0, "Inspection server port (default from config, :4567)")
	grpcPort := flag.Int("grpc-port", 0, "Also serve plain gRPC on this port (used with -serve)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pairvm [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the mark-sweep collector demonstrations, or serves a heap for inspection.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pairvm                          # Run the scenarios\n")
		fmt.Fprintf(os.Stderr, "  pairvm -v -image heap.cbor      # Run verbosely, dump the last heap\n")
		fmt.Fprintf(os.Stderr, "  pairvm -journal cycles.db       # Record cycles in SQLite\n")
		fmt.Fprintf(os.Stderr, "  pairvm -serve -port 8080        # Serve a heap on :8080\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	verbosity := cfg.Log.Verbosity
	if *verbose && verbosity < 2 {
		verbosity = 2
	}
	commonlog.Configure(verbosity, cfg.LogFile())
	if *verbose && cfg.Path != "" {
		fmt.Printf("Loaded %s\n", cfg.Path)
	}

	opts := cfg.VMOptions()

	if *journalPath == "" {
		*journalPath = cfg.Journal.Path
	}
	var jrnl *journal.Journal
	if *journalPath != "" {
		jrnl, err = journal.Open(*journalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	var result *multierror.Error
	failed := 0
	if *runScenarios || !*serveMode {
		failed, err = demonstrate(opts, jrnl, *imagePath, *verbose)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	if *serveMode && failed == 0 {
		addr := cfg.Server.Addr
		if *servePort != 0 {
			addr = fmt.Sprintf(":%d", *servePort)
		}
		if err := serve(addr, *grpcPort, opts, jrnl); err != nil {
			result = multierror.Append(result, fmt.Errorf("server: %w", err))
		}
	}

	if jrnl != nil {
		if err := jrnl.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing journal: %w", err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed > 0 {
		fmt.Printf("%d of %d scenarios failed\n", failed, len(scenarios))
		os.Exit(1)
	}
	if !*serveMode {
		fmt.Println("ok")
	}
}

// demonstrate runs the scenarios and writes the last heap image when
// imagePath is set. It returns the number of failed scenarios.
func demonstrate(opts []vm.Option, jrnl *journal.Journal, imagePath string, verbose bool) (int, error) {
	runner := &scenarioRunner{opts: opts}
	if jrnl != nil {
		runner.attach = jrnl.Attach
	}
	var image []byte
	var imageErr error
	if imagePath != "" {
		runner.inspect = func(name string, v *vm.VM) {
			image, imageErr = v.MarshalImage()
		}
	}

	failed := runner.runAll(os.Stdout, verbose)

	if imagePath == "" {
		return failed, nil
	}
	if imageErr == nil {
		imageErr = os.WriteFile(imagePath, image, 0644)
	}
	if imageErr != nil {
		return failed, fmt.Errorf("writing image: %w", imageErr)
	}
	if verbose {
		fmt.Printf("Wrote %d-byte heap image to %s\n", len(image), imagePath)
	}
	return failed, nil
}

// loadConfig reads the file at path, or searches upward from the working
// directory when path is empty. Without a file the defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// newServedHeap builds the VM behind the inspection server. Fatal
// conditions raised by requests are recovered by the server's worker and
// answered with FailedPrecondition, so no fatal handler may end the process
// here.
func newServedHeap(opts []vm.Option, jrnl *journal.Journal) (*vm.VM, *server.HeapInspector) {
	v := vm.New(opts...)
	if jrnl != nil {
		jrnl.Attach(v)
	}
	return v, server.New(v)
}

// serve exposes a fresh VM until SIGINT or SIGTERM, then shuts the servers
// and the VM down and reports every failure.
func serve(addr string, grpcPort int, opts []vm.Option, jrnl *journal.Journal) error {
	v, insp := newServedHeap(opts, jrnl)

	var result *multierror.Error
	stopAll := func(ctx context.Context) error {
		if err := insp.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping server: %w", err))
		}
		stats := v.Shutdown()
		commonlog.GetLogger("pairvm").Notice("heap released", "heap", v.ID().String(), "cycles", stats.Cycle)
		return result.ErrorOrNil()
	}

	// Bind every listener before serving so a failure leaves nothing running.
	var grpcLis net.Listener
	if grpcPort != 0 {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("grpc listener: %w", err))
			return stopAll(context.Background())
		}
		grpcLis = l
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		errs <- insp.ListenAndServe(addr)
	}()
	if grpcLis != nil {
		gs := insp.GRPCServer()
		go func() {
			errs <- gs.Serve(grpcLis)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return stopAll(shutdownCtx)
}
