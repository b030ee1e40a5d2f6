package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kataras/golog"

	"github.com/video-system/go-canon-capture/internal/simcam"
	"github.com/video-system/go-canon-capture/pkg/api"
	"github.com/video-system/go-canon-capture/pkg/camera"
	"github.com/video-system/go-canon-capture/pkg/capture"
	"github.com/video-system/go-canon-capture/pkg/detect"
	"github.com/video-system/go-canon-capture/pkg/source"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	simulate := flag.Bool("simulate", false, "Use the built-in simulated camera")
	flag.Parse()

	// Load configuration
	cfg := capture.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = capture.LoadConfig(*configPath)
		if err != nil {
			golog.Fatalf("Failed to load config: %v", err)
		}
	}
	if *simulate {
		cfg.Camera.Simulate = true
	}

	golog.SetLevel(cfg.Log.Level)
	golog.Infof("canon-capture %s starting", version)

	driver, bus := buildBackend(cfg)

	manager, err := capture.NewManager(cfg, driver, bus)
	if err != nil {
		golog.Fatalf("Failed to create manager: %v", err)
	}

	sink := &rateSink{}
	manager.SetSink(sink)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		golog.Infof("Shutdown signal received...")
		cancel()
	}()

	if err := manager.Start(ctx); err != nil {
		golog.Fatalf("Failed to start capture: %v", err)
	}

	// Create and start API server
	apiServer := api.NewServer(api.ServerConfig{
		Host:   cfg.API.Host,
		Port:   cfg.API.Port,
		Engine: &engine{m: manager},
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			golog.Errorf("API server error: %v", err)
		}
	}()

	go reportRate(ctx, sink)

	// Wait for shutdown
	manager.Wait()

	// Cleanup
	manager.Stop()
	apiServer.Stop()

	golog.Infof("Capture stopped")
}

// buildBackend returns the configured driver and bus pair. Only the
// simulated backend is built in; a hardware backend plugs in through the
// same two interfaces.
func buildBackend(cfg *capture.Config) (camera.Driver, detect.Bus) {
	if !cfg.Camera.Simulate {
		golog.Warnf("no hardware backend configured, falling back to simulated camera")
	}
	bus := simcam.NewBus(simcam.DefaultDescriptor)
	bus.SetSerial(simcam.DefaultDescriptor, "SIM0001")
	return simcam.Driver{}, bus
}

// engine adapts the manager to the API server's loosely typed surface.
type engine struct {
	m *capture.Manager
}

func (e *engine) GetStatus() interface{}         { return e.m.GetStatus() }
func (e *engine) GetDevices() interface{}        { return e.m.Devices() }
func (e *engine) GetStats() interface{}          { return e.m.Stats() }
func (e *engine) SelectDevice(path string) error { return e.m.SelectDevice(path) }

// rateSink counts delivered frames for the periodic rate report.
type rateSink struct {
	frames atomic.Uint64
}

func (s *rateSink) OutputFrame(f *source.Frame) {
	s.frames.Add(1)
}

func reportRate(ctx context.Context, sink *rateSink) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := sink.frames.Load()
			golog.Infof("delivered %.1f fps (%d total)", float64(total-last)/5.0, total)
			last = total
		}
	}
}
