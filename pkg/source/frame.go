package source

import "github.com/video-system/go-canon-capture/pkg/ring"

// PixelFormat identifies the plane layout of a decoded frame.
type PixelFormat string

const (
	// FormatNV12 is the pipeline's output format: a full-resolution luma
	// plane followed by a half-resolution plane of interleaved CbCr pairs.
	FormatNV12 PixelFormat = "nv12"
)

// Frame is a read-only view of one decoded frame handed out by GetFrame.
// The planes alias a ring slot and stay valid until ReleaseFrame; consumers
// may rewrite the metadata fields but must not touch the plane bytes.
type Frame struct {
	Y         []byte
	CbCr      []byte
	Stride    [2]int
	Width     int
	Height    int
	Timestamp int64 // unix nanoseconds
	Format    PixelFormat

	slot *ring.Slot
}

// Sink receives decoded frames from a delivery loop. The frame is released
// back to the ring as soon as OutputFrame returns; implementations must not
// retain the plane slices.
type Sink interface {
	OutputFrame(f *Frame)
}
