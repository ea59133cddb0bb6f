// Package audio provides PCM frame types, loudness extraction and the
// audio I/O backends used by the playback sessions
package audio

import (
	"encoding/binary"
	"errors"
)

// ErrClosed is returned when reading from or writing to a closed stream
var ErrClosed = errors.New("audio stream closed")

// Format describes interleaved signed 16-bit PCM
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"` // 1 = mono, 2 = interleaved stereo
}

// BytesPerFrame returns the size of one sample frame in bytes
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// Frame is one block of interleaved samples as produced by a Source
type Frame struct {
	Samples []int16
	Format  Format
}

// Frames returns the number of sample frames (samples per channel)
func (f Frame) Frames() int {
	if f.Format.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Format.Channels
}

// Source is a pull-based audio source. ReadFrame returns io.EOF once the
// source is exhausted; any other error is a stream I/O failure.
type Source interface {
	ReadFrame(maxFrames int) (Frame, error)
	Format() Format
	Close() error
}

// Sink is a push-based audio output. Close flushes pending audio.
type Sink interface {
	WriteFrame(frame Frame) error
	Close() error
}

// Aborter is implemented by sinks that can stop without playing out
// queued audio
type Aborter interface {
	Abort() error
}

// AbortSink stops s at once when it supports that and closes it otherwise
func AbortSink(s Sink) error {
	if a, ok := s.(Aborter); ok {
		return a.Abort()
	}
	return s.Close()
}

// Device opens playback and capture streams on a sound card
type Device interface {
	OpenPlayback(format Format, bufferFrames int) (Sink, error)
	OpenCapture(format Format, bufferFrames int) (Source, error)
	Name() string
	Close() error
}

// MirrorLeft returns a copy of a stereo frame with the left channel copied
// over the right one. Non-stereo frames are returned unchanged.
func MirrorLeft(frame Frame) Frame {
	if frame.Format.Channels != 2 {
		return frame
	}

	out := make([]int16, len(frame.Samples))
	copy(out, frame.Samples)
	for i := 0; i+1 < len(out); i += 2 {
		out[i+1] = out[i]
	}

	return Frame{Samples: out, Format: frame.Format}
}

// EncodePCM16 encodes samples as little-endian bytes
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// DecodePCM16 decodes little-endian bytes into samples; a trailing odd byte is ignored
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
