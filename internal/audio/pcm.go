package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SamplesFromPCM16 converts raw 16-bit little-endian PCM into normalized
// float32 samples.
func SamplesFromPCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm stream has odd length %d", len(data))
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768.0
	}
	return samples, nil
}

// EncodeWAV writes canonical samples to a 16-bit mono WAV file in dir
// (os.TempDir when empty) and returns its path. The caller removes it.
func EncodeWAV(samples []float32, dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, fmt.Sprintf("parlo-%d.wav", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create wav file: %w", err)
	}

	enc := wav.NewEncoder(f, TargetSampleRate, 16, TargetChannels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: TargetChannels, SampleRate: TargetSampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		scaled := math.Round(float64(s) * 32767)
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		buf.Data[i] = int(scaled)
	}

	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close wav file: %w", err)
	}

	return path, nil
}
