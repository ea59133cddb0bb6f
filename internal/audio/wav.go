package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource streams 16-bit PCM from a wav file
type WAVSource struct {
	path   string
	file   *os.File
	dec    *wav.Decoder
	format Format
	buf    *goaudio.IntBuffer

	closeOnce sync.Once
	closeErr  error
}

// OpenWAV opens a wav file and positions the decoder at the PCM chunk
func OpenWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}

	if dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("%s: unsupported bit depth %d (need 16)", path, dec.BitDepth)
	}

	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: seek to pcm: %w", path, err)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}

	return &WAVSource{
		path:   path,
		file:   f,
		dec:    dec,
		format: format,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: 16,
		},
	}, nil
}

// Format returns the file's sample format
func (w *WAVSource) Format() Format {
	return w.format
}

// ReadFrame reads up to maxFrames sample frames
func (w *WAVSource) ReadFrame(maxFrames int) (Frame, error) {
	if maxFrames <= 0 {
		return Frame{}, fmt.Errorf("invalid frame count %d", maxFrames)
	}

	want := maxFrames * w.format.Channels
	if cap(w.buf.Data) < want {
		w.buf.Data = make([]int, want)
	}
	w.buf.Data = w.buf.Data[:want]

	n, err := w.dec.PCMBuffer(w.buf)
	// Drop a dangling partial frame at the end of a truncated file
	n -= n % w.format.Channels
	if n <= 0 {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("read %s: %w", w.path, err)
		}
		return Frame{}, io.EOF
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(w.buf.Data[i])
	}

	return Frame{Samples: samples, Format: w.format}, nil
}

// Close closes the underlying file. Safe to call more than once.
func (w *WAVSource) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.file.Close()
	})
	return w.closeErr
}
