package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// bytesPerSample is the width of one PCM sample in chunks and artifacts.
const bytesPerSample = 2

// encodeBlock converts float frames to 16-bit little-endian interleaved
// stereo PCM, clipping out of range values.
func encodeBlock(block [][2]float64) []byte {
	out := make([]byte, len(block)*2*bytesPerSample)
	for i, f := range block {
		binary.LittleEndian.PutUint16(out[i*4:], uint16(floatToInt16(f[0])))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(floatToInt16(f[1])))
	}
	return out
}

func floatToInt16(v float64) int16 {
	v *= 32768.0
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(math.Round(v))
}

// pcmToSamples reinterprets 16-bit little-endian PCM bytes as samples.
func pcmToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// computeRMS computes the root-mean-square of a block normalized to
// [0.0, 1.0], averaging the two channels.
func computeRMS(block [][2]float64) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, f := range block {
		v := (f[0] + f[1]) / 2
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(block)))
	if rms > 1 {
		rms = 1
	}
	return rms
}

// writeSeeker is an in-memory io.WriteSeeker for WAV encoding.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	end := ws.pos + len(p)
	if end > len(ws.buf) {
		ws.buf = append(ws.buf, make([]byte, end-len(ws.buf))...)
	}
	copy(ws.buf[ws.pos:], p)
	ws.pos = end
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case 0: // io.SeekStart
		newPos = int(offset)
	case 1: // io.SeekCurrent
		newPos = ws.pos + int(offset)
	case 2: // io.SeekEnd
		newPos = len(ws.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if newPos < 0 || newPos > len(ws.buf) {
		return 0, fmt.Errorf("seek position %d out of bounds [0, %d]", newPos, len(ws.buf))
	}
	ws.pos = newPos
	return int64(ws.pos), nil
}

// EncodeWAV encodes interleaved int16 PCM samples to WAV format in memory.
func EncodeWAV(samples []int16, sampleRate, numChannels int) ([]byte, error) {
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", numChannels)
	}
	ws := &writeSeeker{}

	intBuf := &audio.IntBuffer{
		Data: make([]int, len(samples)),
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: numChannels,
		},
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		intBuf.Data[i] = int(s)
	}

	enc := wav.NewEncoder(ws, sampleRate, 16, numChannels, 1)
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return ws.buf, nil
}

// DecodeWAV reads a WAV file from bytes and returns the interleaved
// samples, the sample rate and the channel count.
func DecodeWAV(data []byte) ([]int16, int, int, error) {
	reader := bytes.NewReader(data)
	dec := wav.NewDecoder(reader)
	if !dec.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("invalid WAV file")
	}

	pcmBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}

	samples := make([]int16, len(pcmBuf.Data))
	for i, v := range pcmBuf.Data {
		samples[i] = int16(v)
	}

	return samples, int(dec.SampleRate), int(dec.NumChans), nil
}

// wavHeaderSize is the canonical PCM WAV header length.
const wavHeaderSize = 44

// ValidateWAVHeader checks that data starts with a PCM WAV header and
// returns its format. data may be only the first part of a file; the
// sample data is not read.
func ValidateWAVHeader(data []byte) (sampleRate, channels, bitDepth int, err error) {
	if len(data) < wavHeaderSize {
		return 0, 0, 0, fmt.Errorf("data too short for WAV header: %d bytes", len(data))
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return 0, 0, 0, fmt.Errorf("read WAV header: %w", err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 || dec.BitDepth == 0 {
		return 0, 0, 0, fmt.Errorf("not a PCM WAV file")
	}
	return int(dec.SampleRate), int(dec.NumChans), int(dec.BitDepth), nil
}
