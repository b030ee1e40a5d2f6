// Package source implements the video source: a capture goroutine that
// pulls compressed viewfinder frames from a camera session, converts them to
// NV12, and publishes them through a fixed frame ring to a synchronous
// consumer.
package source

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kataras/golog"

	"github.com/video-system/go-canon-capture/internal/nv12"
	"github.com/video-system/go-canon-capture/pkg/camera"
	"github.com/video-system/go-canon-capture/pkg/ring"
)

const (
	// MaxWidth and MaxHeight bound the pre-allocated slot buffers; frames
	// decoding larger than this are rejected.
	MaxWidth  = 3840
	MaxHeight = 2160

	// DefaultTimeout bounds a GetFrame wait so stop requests are observed
	// promptly.
	DefaultTimeout = 100 * time.Millisecond

	slotSize       = MaxWidth * MaxHeight * 3 / 2
	captureBufSize = MaxWidth * MaxHeight * 4
)

var logger = golog.Child("[source]")

// Stats is a snapshot of the source's monotonic counters. Mutated only by
// the capture loop; readable from any goroutine.
type Stats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	FramesDropped  uint64 `json:"frames_dropped"`
	DecodeFailures uint64 `json:"decode_failures"`
}

type state int

const (
	stateStopped state = iota
	stateRunning
	stateStopping
)

// Source owns the frame ring, the converter, and the capture goroutine.
// One mutex guards lifecycle state; the counters are atomic.
type Source struct {
	mu      sync.Mutex
	st      state
	session camera.Session
	cfg     camera.Config

	ring       *ring.Ring
	conv       *nv12.Converter
	captureBuf []byte

	stop chan struct{}
	wg   sync.WaitGroup

	framesCaptured atomic.Uint64
	framesDropped  atomic.Uint64
	decodeFailures atomic.Uint64
}

// New allocates the fixed buffer pool. This is the only point where the
// pipeline can fail on resources; a running source never allocates frames.
func New() (*Source, error) {
	r, err := ring.New(ring.DefaultSlots, slotSize)
	if err != nil {
		return nil, fmt.Errorf("%w: frame ring: %v", camera.ErrResourceExhausted, err)
	}
	return &Source{
		ring:       r,
		conv:       nv12.NewConverter(),
		captureBuf: make([]byte, captureBufSize),
		cfg:        camera.Config{Width: 1920, Height: 1080, FPS: 30},
	}, nil
}

// Init binds a camera session and format to the source. It fails with
// ErrBusy while a capture session is active.
func (s *Source) Init(sess camera.Session, cfg camera.Config) error {
	if sess == nil {
		return camera.ErrInvalidParam
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != stateStopped {
		return camera.ErrBusy
	}
	s.session = sess
	s.cfg = cfg

	logger.Infof("video source initialized: %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	return nil
}

func validateConfig(cfg camera.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return camera.ErrInvalidParam
	}
	if cfg.Width > MaxWidth || cfg.Height > MaxHeight {
		return camera.ErrInvalidParam
	}
	return nil
}

// Start enters live view on the session and launches the capture loop.
// Starting an already running source is a no-op. On failure the source
// stays Stopped and the error is returned.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == stateRunning {
		return nil
	}
	if s.st == stateStopping {
		return camera.ErrBusy
	}
	if s.session == nil {
		return camera.ErrNoDevice
	}

	if err := s.session.StartLiveView(); err != nil {
		return fmt.Errorf("start live view: %w", err)
	}

	s.ring.Reset(s.cfg.Width, (s.cfg.Width/2)*2)
	s.ring.Activate()
	s.st = stateRunning
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.captureLoop(s.session, s.cfg)

	logger.Infof("video source started")
	return nil
}

// Stop flags the capture loop, wakes any blocked GetFrame callers, joins
// the loop, and leaves live view. Safe to call from any goroutine and
// idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.st != stateRunning {
		s.mu.Unlock()
		return
	}
	s.st = stateStopping
	close(s.stop)
	sess := s.session
	s.mu.Unlock()

	s.ring.Deactivate()
	s.wg.Wait()

	if err := sess.StopLiveView(); err != nil {
		logger.Warnf("stop live view: %v", err)
	}

	s.mu.Lock()
	s.st = stateStopped
	s.mu.Unlock()

	logger.Infof("video source stopped")
}

// Active reports whether the capture loop is running.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateRunning
}

// Format returns the configured capture format.
func (s *Source) Format() camera.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateFormat replaces the configured format. It fails with ErrBusy while
// a capture session is active.
func (s *Source) UpdateFormat(cfg camera.Config) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != stateStopped {
		return camera.ErrBusy
	}
	s.cfg = cfg
	return nil
}

// Stats returns an eventually-consistent snapshot of the counters.
func (s *Source) Stats() Stats {
	return Stats{
		FramesCaptured: s.framesCaptured.Load(),
		FramesDropped:  s.framesDropped.Load(),
		DecodeFailures: s.decodeFailures.Load(),
	}
}

// GetFrame blocks until a decoded frame is available, the timeout elapses
// (ErrTimeout — the caller should retry), or the source is stopped
// (ErrDisconnected). The returned frame stays valid until ReleaseFrame.
func (s *Source) GetFrame(timeout time.Duration) (*Frame, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	slot, err := s.ring.Acquire(timeout)
	if err != nil {
		return nil, err
	}

	w, h := slot.Width(), slot.Height()
	ySize := w * h
	chromaSize := (h / 2) * slot.Stride(1)

	return &Frame{
		Y:         slot.Data()[:ySize],
		CbCr:      slot.Data()[ySize : ySize+chromaSize],
		Stride:    [2]int{slot.Stride(0), slot.Stride(1)},
		Width:     w,
		Height:    h,
		Timestamp: slot.Timestamp(),
		Format:    FormatNV12,
		slot:      slot,
	}, nil
}

// ReleaseFrame returns a frame's slot to the ring. A nil frame or a handle
// that matches no slot is a no-op.
func (s *Source) ReleaseFrame(f *Frame) {
	if f == nil {
		return
	}
	s.ring.Release(f.slot)
}

// captureLoop is the producer: capture, decode into a reserved slot, then
// publish under the ring lock. Per-frame failures are counted and skipped;
// pacing is a fixed 1/fps sleep.
func (s *Source) captureLoop(sess camera.Session, cfg camera.Config) {
	defer s.wg.Done()

	interval := time.Second / time.Duration(cfg.FPS)
	logger.Infof("capture loop started (interval %v)", interval)

	for {
		select {
		case <-s.stop:
			logger.Infof("capture loop stopped")
			return
		default:
		}

		n, err := sess.CaptureFrame(s.captureBuf)
		if err != nil {
			if !errors.Is(err, camera.ErrTimeout) {
				logger.Errorf("capture frame: %v", err)
			}
			s.pause(interval)
			continue
		}

		slot := s.ring.Reserve()
		if slot == nil {
			// Ring full or the candidate slot is still claimed by the
			// consumer: drop the newest frame, never block the device.
			s.framesDropped.Add(1)
			s.pause(interval)
			continue
		}

		w, h, err := s.conv.Convert(s.captureBuf[:n], slot.Data())
		if err != nil {
			s.decodeFailures.Add(1)
			logger.Warnf("frame decode failed: %v", err)
			s.pause(interval)
			continue
		}

		if err := s.ring.Commit(slot, w, h, time.Now().UnixNano()); err == nil {
			s.framesCaptured.Add(1)
		}

		s.pause(interval)
	}
}

func (s *Source) pause(d time.Duration) {
	select {
	case <-s.stop:
	case <-time.After(d):
	}
}
