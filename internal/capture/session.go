package capture

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the parameters a Session is constructed with. DeviceName
// may be empty, meaning the default output device; after a successful
// Open it is overwritten with the backend-reported name of whatever
// device was actually used.
type Config struct {
	DeviceName string
	SampleRate int
	Channels   int
	BlockSize  int
	Exclusive  bool
}

// Info is a point-in-time snapshot of session state and counters.
type Info struct {
	DeviceName string
	SampleRate int
	Channels   int
	BlockSize  int
	Exclusive  bool
	Opened     bool
	BlocksRead int
	Reconnects int
}

// Session captures fixed-size blocks of interleaved PCM from a loopback
// device and recovers from transient device failures by falling back to
// the default device and retrying once.
//
// A Session is not safe for concurrent use; callers that share one
// across goroutines must synchronize externally.
type Session struct {
	backend Backend
	log     zerolog.Logger
	cfg     Config

	device DeviceHandle
	rec    Recorder
	opened bool

	blocksRead int
	reconnects int
}

// NewSession validates cfg and returns an unopened session. The backend
// is not contacted until Open.
func NewSession(backend Backend, cfg Config, log zerolog.Logger) (*Session, error) {
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidConfig, cfg.BlockSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidConfig, cfg.Channels)
	}
	return &Session{
		backend: backend,
		cfg:     cfg,
		log:     log.With().Str("session", uuid.NewString()).Logger(),
	}, nil
}

// Open resolves a device and acquires its recording resource. A named
// device that cannot be resolved is logged and replaced by the default
// output device; a failure to open the resolved device is returned as
// ErrDeviceOpen and leaves the session unopened. On success the
// configured device name is replaced with the backend-reported name.
//
// Calling Open on an already-open session closes it first, so the
// recording resource is never double-acquired.
func (s *Session) Open() error {
	if s.opened {
		s.log.Warn().Msg("Open called on open session, closing first")
		if err := s.Close(); err != nil {
			return fmt.Errorf("%w: closing previous recorder: %w", ErrDeviceOpen, err)
		}
	}

	var dev DeviceHandle
	var err error
	if s.cfg.DeviceName != "" {
		dev, err = s.backend.ResolveDevice(s.cfg.DeviceName)
		if err != nil {
			s.log.Warn().Err(err).Str("device", s.cfg.DeviceName).
				Msg("Device not found, falling back to default")
			dev = nil
		}
	}
	if dev == nil {
		dev, err = s.backend.DefaultDevice()
		if err != nil {
			return fmt.Errorf("%w: resolving default device: %w", ErrDeviceOpen, err)
		}
	}

	rec, err := dev.OpenRecorder(RecorderParams{
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		BlockSize:  s.cfg.BlockSize,
		Exclusive:  s.cfg.Exclusive,
	})
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrDeviceOpen, dev.Name(), err)
	}

	s.device = dev
	s.rec = rec
	s.cfg.DeviceName = dev.Name()
	s.opened = true

	s.log.Info().
		Str("device", s.cfg.DeviceName).
		Int("sample_rate", s.cfg.SampleRate).
		Int("channels", s.cfg.Channels).
		Int("block_size", s.cfg.BlockSize).
		Bool("exclusive", s.cfg.Exclusive).
		Msg("Loopback capture opened")
	return nil
}

// Close releases the recording resource. Internal state is cleared even
// if the release fails, so a second Close is always a no-op.
func (s *Session) Close() error {
	if !s.opened {
		return nil
	}
	var err error
	if s.rec != nil {
		err = s.rec.Close()
	}
	s.rec = nil
	s.device = nil
	s.opened = false
	s.log.Info().Msg("Capture session closed")
	return err
}

// ReadBlock blocks until numFrames frames have been captured and
// returns them as one Block.
//
// If the record call fails, the session closes the current device,
// permanently forgets any configured device name, reopens on the
// default device and retries the read exactly once. A failure of the
// reopen or of the retried read is returned to the caller; there is no
// second attempt.
func (s *Session) ReadBlock(numFrames int) (Block, error) {
	if !s.opened || s.rec == nil {
		return Block{}, fmt.Errorf("%w: call Open first", ErrNotOpen)
	}
	if numFrames <= 0 {
		return Block{}, fmt.Errorf("%w: numFrames must be positive, got %d", ErrInvalidArgument, numFrames)
	}

	samples, err := s.rec.Record(numFrames)
	if err == nil {
		s.blocksRead++
		return Block{Samples: samples, Channels: s.cfg.Channels}, nil
	}

	s.log.Warn().Err(err).Msg("Record failed, reopening on default device")
	if cerr := s.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("Releasing failed recorder")
	}
	// Give up on the named device for the rest of this session's life.
	s.cfg.DeviceName = ""
	if oerr := s.Open(); oerr != nil {
		return Block{}, oerr
	}
	s.reconnects++

	samples, err = s.rec.Record(numFrames)
	if err != nil {
		return Block{}, fmt.Errorf("%w: after reconnect: %w", ErrRecord, err)
	}
	s.blocksRead++
	return Block{Samples: samples, Channels: s.cfg.Channels}, nil
}

// Capture reads durationSeconds worth of audio as successive blocks of
// at most numFrames frames and concatenates them in order. It returns
// either the complete result (floor(durationSeconds*sampleRate) frames)
// or the first error from ReadBlock; partial data is discarded.
func (s *Session) Capture(durationSeconds float64, numFrames int) (Block, error) {
	if durationSeconds <= 0 {
		return Block{}, fmt.Errorf("%w: duration must be positive, got %g", ErrInvalidArgument, durationSeconds)
	}
	if numFrames <= 0 {
		return Block{}, fmt.Errorf("%w: numFrames must be positive, got %d", ErrInvalidArgument, numFrames)
	}

	totalFrames := int(durationSeconds * float64(s.cfg.SampleRate))
	samples := make([]float32, 0, totalFrames*s.cfg.Channels)

	framesLeft := totalFrames
	for framesLeft > 0 {
		nf := numFrames
		if framesLeft < nf {
			nf = framesLeft
		}
		block, err := s.ReadBlock(nf)
		if err != nil {
			return Block{}, err
		}
		samples = append(samples, block.Samples...)
		framesLeft -= block.Frames()
	}

	return Block{Samples: samples, Channels: s.cfg.Channels}, nil
}

// Info returns a snapshot of the session's configuration, state and
// counters. It has no side effects.
func (s *Session) Info() Info {
	return Info{
		DeviceName: s.cfg.DeviceName,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		BlockSize:  s.cfg.BlockSize,
		Exclusive:  s.cfg.Exclusive,
		Opened:     s.opened,
		BlocksRead: s.blocksRead,
		Reconnects: s.reconnects,
	}
}
