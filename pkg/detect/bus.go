package detect

import (
	"fmt"
	"time"
)

// Descriptor identifies one device as seen on the USB bus.
type Descriptor struct {
	VendorID  uint16
	ProductID uint16
	BusNumber uint8
	Address   uint8
}

// Path returns the bus-assigned device path. It is the stable identity key
// used for arrival/departure matching.
func (d Descriptor) Path() string {
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", d.BusNumber, d.Address)
}

// Event is a hotplug notification from the bus.
type Event struct {
	Desc    Descriptor
	Arrived bool
}

// Bus abstracts the host's USB layer. Implementations must be safe for use
// from the detector's monitor goroutine concurrently with Devices/Serial
// calls from other goroutines.
type Bus interface {
	// Devices enumerates everything currently attached. A failure to
	// inspect one device must skip that device, not abort the scan.
	Devices() ([]Descriptor, error)

	// NextEvent blocks up to timeout for the next hotplug event. ok is
	// false when the wait timed out without an event.
	NextEvent(timeout time.Duration) (ev Event, ok bool, err error)

	// Serial reads the device serial number, best effort.
	Serial(d Descriptor) (string, error)
}
