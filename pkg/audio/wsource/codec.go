package wsource

import (
	"fmt"
	"strconv"

	"layeh.com/gopus"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// Codec identifies how binary websocket messages are encoded.
type Codec string

const (
	// CodecPCM is raw 16-bit signed little-endian PCM.
	CodecPCM Codec = "pcm"

	// CodecOpus is one Opus packet per message, 20 ms at 48 kHz.
	CodecOpus Codec = "opus"
)

// Opus packets are decoded at 48 kHz; browsers send 20 ms frames.
const (
	opusSampleRate = 48000
	opusFrameSize  = opusSampleRate * 20 / 1000 // 960
	// opusMaxFrameSize covers the longest legal Opus frame (120 ms).
	opusMaxFrameSize = opusSampleRate * 120 / 1000
)

// StreamFormat describes an inbound stream as announced by the client.
type StreamFormat struct {
	Codec      Codec
	SampleRate int
	Channels   int
}

// DefaultStreamFormat is used when the client announces nothing.
var DefaultStreamFormat = StreamFormat{Codec: CodecPCM, SampleRate: 16000, Channels: 1}

// ParseStreamFormat reads codec, rate and channels from query-style values.
// Missing values fall back to [DefaultStreamFormat]; Opus always decodes at
// 48 kHz regardless of the announced rate.
func ParseStreamFormat(get func(string) string) (StreamFormat, error) {
	f := DefaultStreamFormat
	if c := get("codec"); c != "" {
		switch Codec(c) {
		case CodecPCM, CodecOpus:
			f.Codec = Codec(c)
		default:
			return StreamFormat{}, fmt.Errorf("wsource: unsupported codec %q", c)
		}
	}
	if r := get("rate"); r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n <= 0 {
			return StreamFormat{}, fmt.Errorf("wsource: invalid sample rate %q", r)
		}
		f.SampleRate = n
	}
	if c := get("channels"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 2 {
			return StreamFormat{}, fmt.Errorf("wsource: invalid channel count %q", c)
		}
		f.Channels = n
	}
	if f.Codec == CodecOpus {
		f.SampleRate = opusSampleRate
	}
	return f, nil
}

// decoder turns one websocket message into 16-bit PCM.
type decoder interface {
	decode(msg []byte) ([]byte, error)
}

type pcmDecoder struct{}

func (pcmDecoder) decode(msg []byte) ([]byte, error) { return msg, nil }

// opusDecoder wraps a gopus decoder. Each connection gets its own decoder so
// that decoder state is carried correctly across consecutive packets.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder(channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("wsource: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(msg []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(msg, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsource: opus decode: %w", err)
	}
	return audio.FromSamples(pcm), nil
}

func newDecoder(f StreamFormat) (decoder, error) {
	if f.Codec == CodecOpus {
		return newOpusDecoder(f.Channels)
	}
	return pcmDecoder{}, nil
}
