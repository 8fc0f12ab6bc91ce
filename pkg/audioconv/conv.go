package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

type Options struct {
	MaxSamples int
}

// ConvertFileToPCM decodes an audio file into mono float32 samples at rate.
func ConvertFileToPCM(_ context.Context, path string, rate int, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav":
		return decodeWAV(f, rate, opt)
	case ".mp3":
		return decodeMP3(f, rate, opt)
	case ".ogg", ".oga", ".opus":
		return decodeOgg(f, rate, opt)
	default:
		br := bufio.NewReader(f)
		magic, _ := br.Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		switch string(magic) {
		case "RIFF":
			return decodeWAV(f, rate, opt)
		case "OggS":
			return decodeOgg(f, rate, opt)
		default:
			return nil, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg-vorbis/opus)", ext)
		}
	}
}

// DecodeWAV reads an in-memory WAV file and returns its mono samples and
// sample rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	x, sr, err := readWAV(bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	return x, sr, nil
}

func readWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return nil, 0, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := int(dec.SampleRate)
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	if sr <= 0 {
		return nil, 0, errors.New("wav has no sample rate")
	}
	return Downmix(x, ch), sr, nil
}

func decodeWAV(r io.ReadSeeker, rate int, opt Options) ([]float32, error) {
	x, sr, err := readWAV(r)
	if err != nil {
		return nil, err
	}
	return finish(x, sr, rate, opt), nil
}

func decodeMP3(r io.Reader, rate int, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return nil, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	// go-mp3 always emits interleaved stereo
	x := Downmix(Int16ToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return finish(x, sr, rate, opt), nil
}

func decodeOgg(f io.ReadSeeker, rate int, opt Options) ([]float32, error) {
	s, err := decodeOggVorbis(f, rate, opt)
	if err == nil {
		return s, nil
	}
	if _, e2 := f.Seek(0, io.SeekStart); e2 != nil {
		return nil, fmt.Errorf("cannot decode ogg as vorbis: %w", err)
	}
	s, e3 := decodeOggOpus(f, rate, opt)
	if e3 != nil {
		return nil, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", err, e3)
	}
	return s, nil
}

func decodeOggVorbis(r io.Reader, rate int, opt Options) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	x := Downmix(pcm, format.Channels)
	return finish(x, format.SampleRate, rate, opt), nil
}

func decodeOggOpus(rs io.ReadSeeker, rate int, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opus always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, Int16ToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}

	return finish(Downmix(pcm48, ch), 48000, rate, opt), nil
}

func finish(x []float32, inRate, outRate int, opt Options) []float32 {
	x = ResampleAny(x, inRate, outRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}
