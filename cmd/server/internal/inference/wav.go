package inference

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// OutputSampleRate is the rate of generated speech.
const OutputSampleRate = 24000

const (
	numChannels   = 1
	bitsPerSample = 16
)

type wavHeader struct {
	RIFF          [4]byte
	FileSize      uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WriteWAV stores mono float samples in [-1, 1] as 16-bit PCM.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	dataSize := len(samples) * numChannels * (bitsPerSample / 8)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		FileSize:      uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * (bitsPerSample / 8)),
		BlockAlign:    numChannels * (bitsPerSample / 8),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		f.Close()
		return err
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * math.MaxInt16)
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Duration returns the length in seconds of n samples at sampleRate.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
