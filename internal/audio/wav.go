package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	ErrUnsupportedWAV = fmt.Errorf("%w: unsupported wav encoding", ErrUnsupportedFormat)
	ErrInvalidWAV     = fmt.Errorf("%w: invalid wav file", ErrUnsupportedFormat)
)

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
}

// ReadWAV decodes a RIFF/WAVE file into a mono waveform at its native rate.
func ReadWAV(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return DecodeWAV(f)
}

func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	format, data, err := readWAVChunks(r)
	if err != nil {
		return Waveform{}, err
	}

	interleaved, err := decodeSamples(data, format)
	if err != nil {
		return Waveform{}, err
	}

	return Waveform{
		Samples:    Downmix(interleaved, int(format.channels)),
		SampleRate: int(format.sampleRate),
	}, nil
}

func readWAVChunks(r io.ReadSeeker) (wavFormat, []byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return wavFormat{}, nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return wavFormat{}, nil, fmt.Errorf("read wav header: %w", err)
	}

	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, nil, ErrInvalidWAV
	}

	var (
		format  wavFormat
		data    []byte
		hasFmt  bool
		hasData bool
	)

	for !hasData {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return wavFormat{}, nil, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		padded := int64(chunkSize) + int64(chunkSize%2)

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavFormat{}, nil, ErrInvalidWAV
			}
			buf := make([]byte, padded)
			if _, err := io.ReadFull(r, buf); err != nil {
				return wavFormat{}, nil, fmt.Errorf("%w: read fmt chunk: %v", ErrInvalidWAV, err)
			}
			format = wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(buf[0:2]),
				channels:      binary.LittleEndian.Uint16(buf[2:4]),
				sampleRate:    binary.LittleEndian.Uint32(buf[4:8]),
				bitsPerSample: binary.LittleEndian.Uint16(buf[14:16]),
			}
			// WAVE_FORMAT_EXTENSIBLE carries the real format in the sub-format GUID.
			if format.audioFormat == 0xFFFE && chunkSize >= 26 {
				format.audioFormat = binary.LittleEndian.Uint16(buf[24:26])
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return wavFormat{}, nil, ErrInvalidWAV
			}
			// Streamed WAVs sometimes carry a bogus size; read what is there.
			buf, err := io.ReadAll(io.LimitReader(bufio.NewReader(r), int64(chunkSize)))
			if err != nil {
				return wavFormat{}, nil, fmt.Errorf("read wav data: %w", err)
			}
			data = buf
			hasData = true
		default:
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return wavFormat{}, nil, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return wavFormat{}, nil, ErrInvalidWAV
	}
	if format.channels == 0 || format.sampleRate == 0 {
		return wavFormat{}, nil, ErrInvalidWAV
	}
	if err := validateFormat(format.audioFormat, format.bitsPerSample); err != nil {
		return wavFormat{}, nil, err
	}

	return format, data, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case 1:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case 3:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}

func decodeSamples(data []byte, format wavFormat) ([]float64, error) {
	bytesPerSample := int(format.bitsPerSample / 8)
	if bytesPerSample <= 0 {
		return nil, ErrUnsupportedWAV
	}

	out := make([]float64, 0, len(data)/bytesPerSample)
	for i := 0; i+bytesPerSample <= len(data); i += bytesPerSample {
		value, err := decodeSample(data[i:i+bytesPerSample], format.audioFormat, format.bitsPerSample)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == 3 {
		switch bitsPerSample {
		case 32:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(sample))), nil
		case 64:
			return math.Float64frombits(binary.LittleEndian.Uint64(sample)), nil
		default:
			return 0, ErrUnsupportedWAV
		}
	}

	switch bitsPerSample {
	case 8:
		return (float64(sample[0]) - 128.0) / 128.0, nil
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) / 2147483648.0, nil
	default:
		return 0, ErrUnsupportedWAV
	}
}

// EncodeWAV writes the waveform as 16-bit PCM mono.
func EncodeWAV(w io.Writer, wave Waveform) error {
	const (
		bytesPerSample = 2
		fmtChunkSize   = 16
	)

	dataSize := len(wave.Samples) * bytesPerSample
	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(4+(8+fmtChunkSize)+(8+dataSize)))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:], 1)
	binary.LittleEndian.PutUint16(header[22:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(wave.SampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(wave.SampleRate*bytesPerSample))
	binary.LittleEndian.PutUint16(header[32:], bytesPerSample)
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataSize))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	buf := make([]byte, bytesPerSample)
	for _, s := range wave.Samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf, uint16(int16(math.Round(v*32767))))
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write wav samples: %w", err)
		}
	}

	return bw.Flush()
}
