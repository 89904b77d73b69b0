package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// PortAudioBackend captures from input devices via PortAudio. It exists
// for hosts where loopback is exposed as a regular capture endpoint
// (PulseAudio/PipeWire "monitor" sources). PortAudio has no exclusive
// mode, so RecorderParams.Exclusive is ignored.
type PortAudioBackend struct {
	log zerolog.Logger
}

// NewPortAudioBackend initializes PortAudio. Close must be called to
// terminate it.
func NewPortAudioBackend(log zerolog.Logger) (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize PortAudio: %w", err)
	}
	return &PortAudioBackend{log: log}, nil
}

// ResolveDevice finds an input-capable device whose name matches name,
// exactly or as a case-insensitive substring.
func (b *PortAudioBackend) ResolveDevice(name string) (DeviceHandle, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && d.Name == name {
			return &portAudioDevice{info: d}, nil
		}
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return &portAudioDevice{info: d}, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

// DefaultDevice returns the default input device.
func (b *PortAudioBackend) DefaultDevice() (DeviceHandle, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("get default input device: %w", err)
	}
	return &portAudioDevice{info: info}, nil
}

// Devices lists all input-capable devices.
func (b *PortAudioBackend) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}
	return result, nil
}

// Close terminates PortAudio.
func (b *PortAudioBackend) Close() error {
	return portaudio.Terminate()
}

type portAudioDevice struct {
	info *portaudio.DeviceInfo
}

func (d *portAudioDevice) Name() string { return d.info.Name }

// OpenRecorder opens a blocking input stream reading BlockSize frames
// per buffer.
func (d *portAudioDevice) OpenRecorder(p RecorderParams) (Recorder, error) {
	buffer := make([]float32, p.BlockSize*p.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d.info,
			Channels: p.Channels,
			Latency:  d.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.SampleRate),
		FramesPerBuffer: p.BlockSize,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &portAudioRecorder{
		stream:   stream,
		buffer:   buffer,
		channels: p.Channels,
	}, nil
}

type portAudioRecorder struct {
	stream   *portaudio.Stream
	buffer   []float32
	channels int
	pending  []float32
	closed   bool
}

// Record blocks on stream reads until numFrames frames are available.
// Samples beyond the requested count carry over to the next call.
func (r *portAudioRecorder) Record(numFrames int) ([]float32, error) {
	if r.closed {
		return nil, errors.New("stream closed")
	}
	need := numFrames * r.channels
	for len(r.pending) < need {
		if err := r.stream.Read(); err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
		r.pending = append(r.pending, r.buffer...)
	}
	samples := make([]float32, need)
	copy(samples, r.pending)
	r.pending = r.pending[need:]
	return samples, nil
}

// Close stops and releases the stream.
func (r *portAudioRecorder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.stream.Stop(); err != nil {
		r.stream.Close()
		return err
	}
	return r.stream.Close()
}
