package capture

// Backend abstracts the platform audio library: device enumeration plus
// the blocking record primitive. Implementations live in this package
// (malgo, portaudio); tests supply their own.
type Backend interface {
	// ResolveDevice looks up a playback/loopback endpoint by name.
	ResolveDevice(name string) (DeviceHandle, error)
	// DefaultDevice returns the system's current default output endpoint.
	DefaultDevice() (DeviceHandle, error)
	// Devices lists all playback/loopback endpoints.
	Devices() ([]Device, error)
	// Close releases the backend context. No handles or recorders
	// obtained from the backend may be used afterwards.
	Close() error
}

// DeviceHandle is a resolved endpoint a recorder can be opened on.
type DeviceHandle interface {
	// Name is the backend-reported human-readable device name.
	Name() string
	OpenRecorder(p RecorderParams) (Recorder, error)
}

// Recorder is an acquired recording resource on one device. Every
// recorder obtained from OpenRecorder must be closed exactly once.
type Recorder interface {
	// Record blocks until numFrames frames have been captured and
	// returns them as interleaved float32 samples in [-1, 1],
	// numFrames*channels values in total.
	Record(numFrames int) ([]float32, error)
	Close() error
}

// RecorderParams carries the stream format requested from a device.
type RecorderParams struct {
	SampleRate int
	Channels   int
	BlockSize  int
	Exclusive  bool
}

// Device describes an endpoint in an enumeration listing.
type Device struct {
	Name    string
	Default bool
}

// Block is one contiguous run of captured audio: interleaved float32
// samples, frame-major. Blocks are independent of the recorder that
// produced them.
type Block struct {
	Samples  []float32
	Channels int
}

// Frames returns the number of frames in the block.
func (b Block) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}
