// Package wav reads and writes RIFF/WAVE PCM audio as mono float32 samples.
//
// Decoding accepts 8-bit (unsigned) and 16-bit (signed little-endian) PCM
// with any channel count; channels are averaged to mono. Encoding always
// produces 16-bit mono PCM. Other sample widths or non-PCM encodings are
// rejected with [audio.ErrUnsupportedFormat].
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/MrWong99/speechio/pkg/audio"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE

	// headerSize is the size of the canonical header written by [Encode].
	headerSize = 44
)

// Format is the stream format declared in the "fmt " chunk.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Reader decodes the data chunk of a WAV stream incrementally.
type Reader struct {
	r         io.Reader
	format    Format
	remaining int64 // bytes left in the data chunk
	buf       []byte
}

// NewReader parses the RIFF header of r up to the start of the data chunk.
// Unknown chunks before the data chunk are skipped.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wav: read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" {
		return nil, errors.New("wav: missing RIFF header")
	}
	if string(hdr[8:12]) != "WAVE" {
		return nil, errors.New("wav: missing WAVE identifier")
	}

	var (
		format   Format
		foundFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			if tag == formatExtensible && size >= 26 {
				// The first two bytes of the sub-format GUID carry the real tag.
				tag = binary.LittleEndian.Uint16(body[24:26])
			}
			if tag != formatPCM {
				return nil, fmt.Errorf("wav: format tag %#x: %w", tag, audio.ErrUnsupportedFormat)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			foundFmt = true

		case "data":
			if !foundFmt {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
				return nil, fmt.Errorf("wav: %d-bit samples: %w", format.BitsPerSample, audio.ErrUnsupportedFormat)
			}
			if format.Channels <= 0 || format.SampleRate <= 0 {
				return nil, fmt.Errorf("wav: invalid format %+v", format)
			}
			return &Reader{r: r, format: format, remaining: size}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}

// Format returns the declared stream format.
func (r *Reader) Format() Format { return r.format }

// ReadChunk decodes up to frames sample frames and returns them as mono
// samples. It returns io.EOF once the data chunk is exhausted. A truncated
// data chunk ends the stream after the last complete frame.
func (r *Reader) ReadChunk(frames int) ([]float32, error) {
	if frames <= 0 {
		frames = 1
	}
	bytesPerFrame := r.format.Channels * r.format.BitsPerSample / 8
	want := min(int64(frames*bytesPerFrame), r.remaining)
	want -= want % int64(bytesPerFrame)
	if want <= 0 {
		return nil, io.EOF
	}
	if cap(r.buf) < int(want) {
		r.buf = make([]byte, want)
	}
	buf := r.buf[:want]
	n, err := io.ReadFull(r.r, buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		r.remaining = 0
		buf = buf[:n-n%bytesPerFrame]
		if len(buf) == 0 {
			return nil, io.EOF
		}
	case err != nil:
		return nil, fmt.Errorf("wav: read samples: %w", err)
	default:
		r.remaining -= int64(n)
	}
	return r.decode(buf), nil
}

// decode averages all channels of each frame into one float sample.
func (r *Reader) decode(buf []byte) []float32 {
	channels := r.format.Channels
	width := r.format.BitsPerSample / 8
	frames := len(buf) / (channels * width)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			off := (i*channels + c) * width
			if width == 1 {
				sum += (float32(buf[off]) - 128) / 128
			} else {
				sum += float32(int16(binary.LittleEndian.Uint16(buf[off:]))) / 32768
			}
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Decode reads the whole stream from r and returns its mono samples,
// resampled to targetRate with rs when the native rate differs. A
// targetRate of 0 keeps the native rate. The returned Format describes the
// source stream.
func Decode(r io.Reader, targetRate int, rs audio.Resampler) ([]float32, Format, error) {
	wr, err := NewReader(r)
	if err != nil {
		return nil, Format{}, err
	}
	var samples []float32
	for {
		chunk, err := wr.ReadChunk(4096)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, Format{}, err
		}
		samples = append(samples, chunk...)
	}
	if targetRate > 0 && rs != nil {
		samples = rs.Resample(samples, wr.format.SampleRate, targetRate)
	}
	return samples, wr.format, nil
}

// ReadFile decodes the WAV file at path. See [Decode].
func ReadFile(path string, targetRate int, rs audio.Resampler) ([]float32, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("wav: open %q: %w", path, err)
	}
	defer f.Close()
	return Decode(f, targetRate, rs)
}

// Chunks returns an iterator over the WAV file at path in chunks of
// chunkSize source frames, each resampled to targetRate with rs. The file is
// opened when iteration starts and closed when it ends. Any error is yielded
// once as the final element.
func Chunks(path string, chunkSize, targetRate int, rs audio.Resampler) iter.Seq2[[]float32, error] {
	return func(yield func([]float32, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("wav: open %q: %w", path, err))
			return
		}
		defer f.Close()

		wr, err := NewReader(f)
		if err != nil {
			yield(nil, err)
			return
		}
		src := wr.Format().SampleRate
		for {
			chunk, err := wr.ReadChunk(chunkSize)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if rs != nil && targetRate > 0 {
				chunk = rs.Resample(chunk, src, targetRate)
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// ---- encoding ----

// Encode writes samples to w as a canonical 44-byte-header 16-bit mono PCM
// WAV file at sampleRate.
func Encode(w io.Writer, samples []float32, sampleRate int) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)

	hdr := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     headerSize - 8 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      byteRate,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if _, err := w.Write(audio.FloatToPCM16(samples)); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	return nil
}

// EncodeBytes returns samples encoded as an in-memory WAV file.
func EncodeBytes(samples []float32, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(samples)*2)
	_ = Encode(&buf, samples, sampleRate) // bytes.Buffer writes never fail
	return buf.Bytes()
}

// WriteFile encodes samples into a new WAV file at path, creating parent
// directories as needed.
func WriteFile(path string, samples []float32, sampleRate int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("wav: create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %q: %w", path, err)
	}
	if err := Encode(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("wav: close %q: %w", path, err)
	}
	return nil
}
