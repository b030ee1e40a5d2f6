package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"

	"github.com/video-system/go-canon-capture/pkg/camera"
	"github.com/video-system/go-canon-capture/pkg/detect"
	"github.com/video-system/go-canon-capture/pkg/source"
)

var logger = golog.Child("[capture]")

// deviceEvent is a hotplug notification forwarded from the detector
// callback to the manager goroutine. Connection work never runs inside the
// detector's lock.
type deviceEvent struct {
	cam       detect.Camera
	connected bool
}

// Manager wires the device detector, the camera driver, and the video
// source together: it connects to a camera when one matching the
// configuration appears, tears the pipeline down when it departs, and
// delivers decoded frames to the sink.
type Manager struct {
	cfg    *Config
	driver camera.Driver

	detector *detect.Detector
	source   *source.Source
	sink     source.Sink

	mu         sync.Mutex
	session    camera.Session
	devicePath string
	model      string
	lastErr    error

	sessionID string
	events    chan deviceEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Status is a point-in-time snapshot of the manager for the control API.
type Status struct {
	SessionID  string       `json:"session_id"`
	Running    bool         `json:"running"`
	DevicePath string       `json:"device_path,omitempty"`
	Model      string       `json:"model,omitempty"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	FPS        int          `json:"fps"`
	Cameras    int          `json:"cameras"`
	Stats      source.Stats `json:"stats"`
	LastError  string       `json:"last_error,omitempty"`
}

// NewManager creates a manager for the given configuration, driver, and
// bus. Nothing runs until Start.
func NewManager(cfg *Config, driver camera.Driver, bus detect.Bus) (*Manager, error) {
	if cfg == nil || driver == nil || bus == nil {
		return nil, camera.ErrInvalidParam
	}

	src, err := source.New()
	if err != nil {
		return nil, fmt.Errorf("create video source: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		driver:    driver,
		source:    src,
		sessionID: uuid.NewString(),
		events:    make(chan deviceEvent, 16),
	}

	m.detector = detect.New(bus)
	m.detector.SetCallback(func(cam detect.Camera, connected bool) {
		// Called inside the detector's lock: forward only, drop on overflow.
		select {
		case m.events <- deviceEvent{cam: cam, connected: connected}:
		default:
			logger.Warnf("hotplug event queue full, dropping event for %s", cam.DevicePath)
		}
	})

	return m, nil
}

// SetSink installs the frame consumer. Must be called before Start.
func (m *Manager) SetSink(sink source.Sink) {
	m.sink = sink
}

// SessionID returns the identifier assigned to this manager instance.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Start launches device monitoring, connects to an already-present camera
// if one matches the configuration, and begins frame delivery.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.detector.Start(); err != nil {
		return fmt.Errorf("start detector: %w", err)
	}

	m.wg.Add(1)
	go m.eventLoop()

	if m.sink != nil {
		m.wg.Add(1)
		go m.deliverLoop()
	}

	// Connect to a camera that was present before monitoring began.
	m.mu.Lock()
	m.tryConnectLocked()
	m.mu.Unlock()

	logger.Infof("capture manager started (session %s)", m.sessionID)
	return nil
}

// Stop tears down frame delivery, the capture session, and device
// monitoring. Safe to call more than once.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.Lock()
	m.disconnectLocked()
	m.mu.Unlock()

	m.detector.Stop()
	m.wg.Wait()
	logger.Infof("capture manager stopped")
}

// Wait blocks until the manager's context is cancelled.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// Source exposes the video source for direct frame pulls.
func (m *Manager) Source() *source.Source {
	return m.source
}

// Devices returns the currently registered cameras.
func (m *Manager) Devices() []detect.Camera {
	return m.detector.Cameras()
}

// Stats returns the source's frame counters.
func (m *Manager) Stats() source.Stats {
	return m.source.Stats()
}

// GetStatus returns a snapshot of the manager state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	fmtCfg := m.source.Format()
	st := Status{
		SessionID:  m.sessionID,
		Running:    m.source.Active(),
		DevicePath: m.devicePath,
		Model:      m.model,
		Width:      fmtCfg.Width,
		Height:     fmtCfg.Height,
		FPS:        fmtCfg.FPS,
		Cameras:    m.detector.Count(),
		Stats:      m.source.Stats(),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// SelectDevice switches capture to the camera at the given path. The
// current session, if any, is torn down first.
func (m *Manager) SelectDevice(path string) error {
	if path == "" {
		return camera.ErrInvalidParam
	}

	var target *detect.Camera
	for _, cam := range m.detector.Cameras() {
		if cam.DevicePath == path {
			c := cam
			target = &c
			break
		}
	}
	if target == nil {
		return camera.ErrNoDevice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.devicePath == path && m.source.Active() {
		return nil
	}
	m.disconnectLocked()
	return m.connectLocked(*target)
}

// eventLoop serializes hotplug handling on the manager's own goroutine.
func (m *Manager) eventLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.handleDeviceEvent(ev)
		}
	}
}

func (m *Manager) handleDeviceEvent(ev deviceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.connected {
		logger.Infof("camera arrived: %s at %s", ev.cam.ModelName, ev.cam.DevicePath)
		if m.session == nil {
			m.tryConnectLocked()
		}
		return
	}

	logger.Infof("camera departed: %s", ev.cam.DevicePath)
	if ev.cam.DevicePath != m.devicePath {
		return
	}
	m.disconnectLocked()
	if m.cfg.Camera.AutoReconnect {
		m.tryConnectLocked()
	}
}

// tryConnectLocked connects to the first registered camera matching the
// configured device selector. No-op when already connected or none matches.
func (m *Manager) tryConnectLocked() {
	if m.session != nil {
		return
	}
	for _, cam := range m.detector.Cameras() {
		if m.cfg.Camera.Device != "auto" && cam.DevicePath != m.cfg.Camera.Device {
			continue
		}
		if err := m.connectLocked(cam); err != nil {
			logger.Errorf("connect %s: %v", cam.DevicePath, err)
			m.lastErr = err
			continue
		}
		return
	}
}

func (m *Manager) connectLocked(cam detect.Camera) error {
	sess, err := m.driver.Connect(cam.DevicePath, m.cfg.Camera.Format())
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	if err := m.source.Init(sess, m.cfg.Camera.Format()); err != nil {
		sess.Close()
		return fmt.Errorf("init source: %w", err)
	}
	if err := m.source.Start(); err != nil {
		sess.Close()
		return fmt.Errorf("start source: %w", err)
	}

	m.session = sess
	m.devicePath = cam.DevicePath
	m.model = cam.ModelName
	m.lastErr = nil
	logger.Infof("capturing from %s (%s)", cam.ModelName, cam.DevicePath)
	return nil
}

func (m *Manager) disconnectLocked() {
	if m.session == nil {
		return
	}
	m.source.Stop()
	if err := m.session.Close(); err != nil {
		logger.Warnf("close session: %v", err)
	}
	m.session = nil
	m.devicePath = ""
	m.model = ""
}

// deliverLoop pulls decoded frames and hands them to the sink. While no
// session is active it idles on the bounded wait instead of spinning.
func (m *Manager) deliverLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		f, err := m.source.GetFrame(source.DefaultTimeout)
		if err != nil {
			if errors.Is(err, camera.ErrDisconnected) {
				select {
				case <-m.ctx.Done():
					return
				case <-time.After(source.DefaultTimeout):
				}
			}
			continue
		}

		m.sink.OutputFrame(f)
		m.source.ReleaseFrame(f)
	}
}
