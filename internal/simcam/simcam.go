// Package simcam provides an in-process USB bus and camera implementation
// producing synthetic JPEG viewfinder frames. It stands in for the hardware
// protocol so the pipeline can run and be tested without a physical body.
package simcam

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/video-system/go-canon-capture/pkg/camera"
	"github.com/video-system/go-canon-capture/pkg/detect"
)

// DefaultDescriptor is the device the demo binary plugs in at startup: an
// EOS R5 on bus 1, address 4.
var DefaultDescriptor = detect.Descriptor{
	VendorID:  detect.CanonVendorID,
	ProductID: 0x32D2,
	BusNumber: 1,
	Address:   4,
}

// Bus is a simulated USB bus with injectable hotplug events.
type Bus struct {
	mu      sync.Mutex
	devices []detect.Descriptor
	serials map[string]string
	events  chan detect.Event
}

// NewBus creates a bus with the given devices already attached.
func NewBus(devs ...detect.Descriptor) *Bus {
	b := &Bus{
		devices: append([]detect.Descriptor(nil), devs...),
		serials: make(map[string]string),
		events:  make(chan detect.Event, 16),
	}
	return b
}

// SetSerial sets the serial number reported for a device path.
func (b *Bus) SetSerial(d detect.Descriptor, serial string) {
	b.mu.Lock()
	b.serials[d.Path()] = serial
	b.mu.Unlock()
}

// Plug attaches a device and emits an arrival event.
func (b *Bus) Plug(d detect.Descriptor) {
	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
	b.events <- detect.Event{Desc: d, Arrived: true}
}

// Unplug detaches a device and emits a departure event.
func (b *Bus) Unplug(d detect.Descriptor) {
	b.mu.Lock()
	for i, dev := range b.devices {
		if dev.Path() == d.Path() {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	b.events <- detect.Event{Desc: d, Arrived: false}
}

// Devices implements detect.Bus.
func (b *Bus) Devices() ([]detect.Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]detect.Descriptor, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

// NextEvent implements detect.Bus.
func (b *Bus) NextEvent(timeout time.Duration) (detect.Event, bool, error) {
	select {
	case ev := <-b.events:
		return ev, true, nil
	case <-time.After(timeout):
		return detect.Event{}, false, nil
	}
}

// Serial implements detect.Bus.
func (b *Bus) Serial(d detect.Descriptor) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.serials[d.Path()]; ok {
		return s, nil
	}
	return "", camera.ErrNotSupported
}

// Driver opens simulated camera sessions.
type Driver struct{}

// Connect implements camera.Driver.
func (Driver) Connect(path string, cfg camera.Config) (camera.Session, error) {
	if path == "" {
		return nil, camera.ErrInvalidParam
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, camera.ErrInvalidParam
	}

	frames, err := renderFrames(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	return &Session{cfg: cfg, frames: frames}, nil
}

// Session produces a pre-rendered cycle of JPEG frames at the configured
// rate. CaptureFrame blocks until the next frame is due, like a real
// viewfinder pull.
type Session struct {
	mu       sync.Mutex
	cfg      camera.Config
	frames   [][]byte
	index    int
	liveView bool
	closed   bool
	nextDue  time.Time
}

// StartLiveView implements camera.Session.
func (s *Session) StartLiveView() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return camera.ErrDisconnected
	}
	s.liveView = true
	s.nextDue = time.Now()
	return nil
}

// StopLiveView implements camera.Session.
func (s *Session) StopLiveView() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveView = false
	return nil
}

// CaptureFrame implements camera.Session.
func (s *Session) CaptureFrame(buf []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, camera.ErrDisconnected
	}
	if !s.liveView {
		s.mu.Unlock()
		return 0, camera.ErrNotSupported
	}
	wait := time.Until(s.nextDue)
	s.nextDue = s.nextDue.Add(time.Second / time.Duration(s.cfg.FPS))
	if s.nextDue.Before(time.Now()) {
		s.nextDue = time.Now()
	}
	frame := s.frames[s.index]
	s.index = (s.index + 1) % len(s.frames)
	s.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	n := copy(buf, frame)
	return n, nil
}

// Capabilities implements camera.Session.
func (s *Session) Capabilities() camera.Capabilities {
	return camera.Capabilities{
		MaxWidth:     3840,
		MaxHeight:    2160,
		MinFPS:       24,
		MaxFPS:       60,
		HasLiveView:  true,
		HasAutoFocus: true,
	}
}

// Close implements camera.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.liveView = false
	return nil
}

// renderFrames pre-encodes a short cycle of gradient frames with a moving
// bar, enough motion to tell frames apart in a viewer.
func renderFrames(width, height int) ([][]byte, error) {
	const cycle = 8

	frames := make([][]byte, 0, cycle)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < cycle; i++ {
		barX := width * i / cycle
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.RGBA{
					R: uint8(x * 255 / width),
					G: uint8(y * 255 / height),
					B: 64,
					A: 255,
				}
				if x >= barX && x < barX+width/16 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				}
				img.SetRGBA(x, y, c)
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
			return nil, err
		}
		frames = append(frames, append([]byte(nil), buf.Bytes()...))
	}
	return frames, nil
}
