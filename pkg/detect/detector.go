package detect

import (
	"sync"
	"time"

	"github.com/kataras/golog"
)

const (
	// maxCameras bounds registry memory under hotplug storms.
	maxCameras = 16

	// eventWait keeps the monitor loop responsive to Stop.
	eventWait = 100 * time.Millisecond
)

var logger = golog.Child("[detect]")

// Camera is one attached camera as tracked by the Detector.
type Camera struct {
	VendorID   uint16 `json:"vendor_id"`
	ProductID  uint16 `json:"product_id"`
	ModelName  string `json:"model"`
	DevicePath string `json:"device_path"`
	Serial     string `json:"serial,omitempty"`
	Supported  bool   `json:"supported"`
}

// EventCallback receives connect/disconnect notifications. It is invoked
// from inside the detector's lock: implementations must not call back into
// the detector.
type EventCallback func(cam Camera, connected bool)

// Detector tracks the set of attached Canon cameras. One mutex serializes
// the hotplug path against snapshot queries.
type Detector struct {
	bus Bus

	mu       sync.Mutex
	cameras  []Camera
	callback EventCallback
	running  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a detector over the given bus.
func New(bus Bus) *Detector {
	return &Detector{
		bus:     bus,
		cameras: make([]Camera, 0, maxCameras),
	}
}

// SetCallback registers the connect/disconnect callback.
func (d *Detector) SetCallback(cb EventCallback) {
	d.mu.Lock()
	d.callback = cb
	d.mu.Unlock()
}

// Start enumerates devices already present (delivering synthetic arrival
// events for them) and begins the monitor goroutine. Calling Start twice is
// a no-op.
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stop = make(chan struct{})
	d.mu.Unlock()

	descs, err := d.bus.Devices()
	if err != nil {
		logger.Errorf("initial enumeration failed: %v", err)
	}
	for _, desc := range descs {
		d.handleEvent(Event{Desc: desc, Arrived: true})
	}

	d.wg.Add(1)
	go d.monitor()

	logger.Infof("camera detector started (%d present)", d.Count())
	return nil
}

// Stop ends the monitor goroutine and waits for it. Stop on a non-started
// detector is a no-op.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.mu.Unlock()

	d.wg.Wait()
	logger.Infof("camera detector stopped")
}

// Cameras returns a snapshot copy of the current registry.
func (d *Detector) Cameras() []Camera {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Camera, len(d.cameras))
	copy(out, d.cameras)
	return out
}

// Count returns the number of tracked cameras.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cameras)
}

func (d *Detector) monitor() {
	defer d.wg.Done()

	logger.Debugf("monitor loop started")
	for {
		select {
		case <-d.stop:
			logger.Debugf("monitor loop stopped")
			return
		default:
		}

		ev, ok, err := d.bus.NextEvent(eventWait)
		if err != nil {
			logger.Errorf("bus event wait failed: %v", err)
			continue
		}
		if ok {
			d.handleEvent(ev)
		}
	}
}

// handleEvent applies one hotplug notification to the registry and fires
// the callback while still holding the lock.
func (d *Detector) handleEvent(ev Event) {
	if ev.Desc.VendorID != CanonVendorID {
		return
	}

	cam := Camera{
		VendorID:   ev.Desc.VendorID,
		ProductID:  ev.Desc.ProductID,
		ModelName:  ModelName(ev.Desc.ProductID),
		DevicePath: ev.Desc.Path(),
		Supported:  IsSupported(ev.Desc.VendorID, ev.Desc.ProductID),
	}

	if ev.Arrived {
		// Serial read is best effort; a failure leaves the field empty.
		if serial, err := d.bus.Serial(ev.Desc); err == nil {
			cam.Serial = serial
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.Arrived {
		for _, existing := range d.cameras {
			if existing.DevicePath == cam.DevicePath {
				return
			}
		}
		if len(d.cameras) >= maxCameras {
			logger.Warnf("camera table full, ignoring %s at %s", cam.ModelName, cam.DevicePath)
			return
		}
		d.cameras = append(d.cameras, cam)
		logger.Infof("camera connected: %s at %s", cam.ModelName, cam.DevicePath)

		if d.callback != nil {
			d.callback(cam, true)
		}
		return
	}

	for i, existing := range d.cameras {
		if existing.DevicePath == cam.DevicePath {
			removed := existing
			d.cameras = append(d.cameras[:i], d.cameras[i+1:]...)
			logger.Infof("camera disconnected: %s", removed.ModelName)

			if d.callback != nil {
				d.callback(removed, false)
			}
			return
		}
	}
	// Departure of an unknown path: nothing to do.
}
