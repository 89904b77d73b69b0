package wavefile

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/petems/loopcap/internal/capture"
)

// Write saves a captured block to path as a 16-bit PCM WAV file.
// Samples are clamped to [-1, 1] before quantization.
func Write(path string, block capture.Block, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, block.Channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: block.Channels,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(block.Samples)),
		SourceBitDepth: 16,
	}
	for i, s := range block.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}
