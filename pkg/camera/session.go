package camera

// Config holds the format requested from a camera session. It is mutated
// only while the owning pipeline is inactive.
type Config struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// Capabilities describes what a connected camera supports.
type Capabilities struct {
	MaxWidth     int
	MaxHeight    int
	MinFPS       int
	MaxFPS       int
	HasLiveView  bool
	HasAutoFocus bool
}

// Session is an open connection to one physical camera. Implementations own
// the device protocol; the pipeline only ever drives this interface.
//
// CaptureFrame writes one compressed viewfinder frame into buf and returns
// the number of bytes written. It returns ErrTimeout when the device produced
// no frame within its internal deadline, ErrDisconnected when the device
// vanished, and ErrNotSupported when live view is not active.
type Session interface {
	StartLiveView() error
	StopLiveView() error
	CaptureFrame(buf []byte) (int, error)
	Capabilities() Capabilities
	Close() error
}

// Driver opens sessions to physical cameras addressed by bus path.
type Driver interface {
	Connect(path string, cfg Config) (Session, error)
}
