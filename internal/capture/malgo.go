package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

var errDeviceStopped = errors.New("device stopped")

// MalgoBackend captures the signal played to an output endpoint via
// miniaudio's loopback mode. This is the primary backend: loopback is
// supported natively on WASAPI and through monitor endpoints elsewhere.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// NewMalgoBackend initializes a miniaudio context. Close must be called
// when the backend is no longer needed.
func NewMalgoBackend(log zerolog.Logger) (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("source", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx, log: log}, nil
}

// ResolveDevice finds a playback endpoint whose name matches name,
// exactly or as a case-insensitive substring.
func (b *MalgoBackend) ResolveDevice(name string) (DeviceHandle, error) {
	infos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}
	for _, info := range infos {
		if info.Name() == name {
			return &malgoDevice{backend: b, info: info}, nil
		}
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return &malgoDevice{backend: b, info: info}, nil
		}
	}
	return nil, fmt.Errorf("no playback device matching %q", name)
}

// DefaultDevice returns the system default playback endpoint.
func (b *MalgoBackend) DefaultDevice() (DeviceHandle, error) {
	infos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}
	for _, info := range infos {
		if info.IsDefault != 0 {
			return &malgoDevice{backend: b, info: info}, nil
		}
	}
	if len(infos) > 0 {
		return &malgoDevice{backend: b, info: infos[0]}, nil
	}
	return nil, errors.New("no playback devices available")
}

// Devices lists all playback endpoints.
func (b *MalgoBackend) Devices() ([]Device, error) {
	infos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate playback devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Close tears down the miniaudio context. All recorders must be closed
// first.
func (b *MalgoBackend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

type malgoDevice struct {
	backend *MalgoBackend
	info    malgo.DeviceInfo
}

func (d *malgoDevice) Name() string { return d.info.Name() }

// OpenRecorder opens the endpoint in loopback mode and starts it. The
// device callback runs on miniaudio's audio thread and hands raw F32
// frames to a buffered queue that Record drains.
func (d *malgoDevice) OpenRecorder(p RecorderParams) (Recorder, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Loopback)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(p.Channels)
	cfg.Capture.DeviceID = d.info.ID.Pointer()
	cfg.SampleRate = uint32(p.SampleRate)
	cfg.PeriodSizeInFrames = uint32(p.BlockSize)
	if p.Exclusive {
		cfg.Capture.ShareMode = malgo.Exclusive
	}

	rec := &malgoRecorder{
		channels: p.Channels,
		dataCh:   make(chan []byte, 64),
		errCh:    make(chan error, 1),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// The backend reuses its buffer; copy before queueing.
			buf := make([]byte, len(input))
			copy(buf, input)
			select {
			case rec.dataCh <- buf:
			default:
				// Slow consumer: dropping beats blocking the audio thread.
			}
		},
		Stop: func() {
			if rec.closed.Load() {
				return
			}
			select {
			case rec.errCh <- errDeviceStopped:
			default:
			}
		},
	}

	dev, err := malgo.InitDevice(d.backend.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init loopback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start loopback device: %w", err)
	}
	rec.device = dev
	return rec, nil
}

type malgoRecorder struct {
	device   *malgo.Device
	channels int
	dataCh   chan []byte
	errCh    chan error
	pending  []byte
	closed   atomic.Bool
}

// Record blocks until numFrames frames have arrived from the device
// callback. Bytes beyond the requested count are kept for the next
// call.
func (r *malgoRecorder) Record(numFrames int) ([]float32, error) {
	if r.closed.Load() {
		return nil, errDeviceStopped
	}
	need := numFrames * r.channels * 4
	for len(r.pending) < need {
		select {
		case buf := <-r.dataCh:
			r.pending = append(r.pending, buf...)
		case err := <-r.errCh:
			return nil, err
		}
	}

	samples := make([]float32, numFrames*r.channels)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(r.pending[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	r.pending = r.pending[need:]
	return samples, nil
}

// Close stops and releases the device. Safe to call once per recorder;
// the stop callback fired by Uninit is suppressed.
func (r *malgoRecorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.device != nil {
		r.device.Uninit()
		r.device = nil
	}
	return nil
}
