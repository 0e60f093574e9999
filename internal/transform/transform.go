// Package transform implements an instance's per-connection processing
// chain: downmix, resample, and either a PCM-to-Vorbis encoder or a
// Vorbis-to-Vorbis re-encoder (spec §4.3, §4.6, §4.7). It is the Go
// counterpart of encode.c/reencode.c/downmix.c wired together the way
// stream.c's process_and_send drives them for one instance.
package transform

import (
	"errors"
	"fmt"

	"github.com/xlab/vorbis-go/vorbis"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/downmix"
	"sujoyan/icesgo/internal/resample"
	"sujoyan/icesgo/internal/vorbiscodec"
)

// ErrNoData is returned by ProcessAndSend when the chain consumed the input
// buffer but had nothing ready to send yet (process_and_send's "-1").
var ErrNoData = errors.New("transform: nothing ready to send yet")

// ErrFatal is returned for an unrecoverable transform failure — a bad
// resample negotiation, an encoder that refuses to initialize, a re-encode
// stream that desyncs (process_and_send's "-2").
var ErrFatal = errors.New("transform: unrecoverable transform error")

// ErrUnsupportedChannels is the re-encoder refusing a channel conversion
// it has no stage for: anything other than a passthrough channel count or
// a stereo-to-mono downmix. It is a kind of ErrFatal.
var ErrUnsupportedChannels = fmt.Errorf("%w: unsupported channel conversion", ErrFatal)

// Mode selects which of the three process_and_send sub-paths (§4.7) a
// Chain runs.
type Mode int

const (
	// ModePassthrough writes the input buffer's bytes verbatim: a Vorbis
	// input feeding an instance that does not reencode.
	ModePassthrough Mode = iota
	// ModeEncode converts PCM input into a fresh Vorbis stream.
	ModeEncode
	// ModeReencode decodes a Vorbis input stream and re-encodes it, for
	// instances that need a different channel count, sample rate, or
	// bitrate than the upstream Vorbis source already has.
	ModeReencode
)

// Params configures one instance's Chain, derived from its config.Instance
// plus the producer's input.Type() (§4.6 "initialize the per-instance
// transform chain").
type Params struct {
	Mode Mode

	Downmix   bool
	BigEndian bool // PCM byte order; §4.4's PCM_BE_16 subtype

	// InRate/OutRate configure the resampler; 0 on either side disables it
	// (§6 default "resample in/out 0 (disabled)").
	InRate, OutRate int

	// SourceChannels is the PCM input's channel count before downmix.
	SourceChannels int

	Encode vorbiscodec.EncodeParams // Serialno is assigned fresh per logical stream

	// MaxSamplesPerPage is §4.3's max_samples_ppage; 0 defaults to the
	// output rate, clamped to at least rate/100.
	MaxSamplesPerPage int

	Comments map[string]string
}

// Chain is the live per-instance transform state: the optional downmix and
// resample stages (either, both, or neither), plus the encoder (or, in
// ModeReencode, the upstream decode Stream feeding it).
type Chain struct {
	p Params

	downmixState  *downmix.State
	resampleState *resample.State

	encoder       *vorbiscodec.Encoder
	samplesInPage int

	// ModeReencode only.
	decodeStream *vorbiscodec.Stream
	curSerialno  int
	needHeaders  int
}

// New builds a Chain from the given parameters. Downmixing a PCM source
// forces the encoder's channel count to 1, matching downmix.c's contract
// that downmixed output always feeds a mono encode.
func New(p Params) *Chain {
	if p.Downmix && p.Mode == ModeEncode {
		p.Encode.Channels = 1
	}
	c := &Chain{p: p}
	if p.Downmix {
		c.downmixState = downmix.New()
	}
	if p.Mode != ModeReencode && p.InRate != 0 && p.OutRate != 0 && p.InRate != p.OutRate {
		channels := p.Encode.Channels
		if channels == 0 {
			channels = p.SourceChannels
		}
		c.resampleState = resample.New(channels, p.InRate, p.OutRate)
	}
	return c
}

// Close releases every native resource the chain holds.
func (c *Chain) Close() {
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decodeStream != nil {
		c.decodeStream.Close()
		c.decodeStream = nil
	}
}

// SetComments refreshes the Vorbis comment tags a freshly (re)started
// encoder will be given, matching process_and_send's "refresh comments via
// input.metadata_update if supported" step on a critical-buffer restart.
func (c *Chain) SetComments(m map[string]string) {
	c.p.Comments = m
}

func (c *Chain) maxSamplesPerPage() int {
	if c.p.MaxSamplesPerPage > 0 {
		return c.p.MaxSamplesPerPage
	}
	rate := c.p.OutRate
	if rate == 0 {
		rate = c.p.Encode.Rate
	}
	if rate <= 0 {
		rate = 44100
	}
	min := rate / 100
	if min < 1 {
		min = 1
	}
	if rate < min {
		return min
	}
	return rate
}

// ProcessAndSend runs one input buffer through the chain and calls send for
// each resulting network write, in process_and_send's write order (§4.7).
// It returns ErrNoData when nothing was ready to send, ErrFatal on an
// unrecoverable transform error, or — unwrapped, so callers can classify it
// the way §4.6's reconnect logic does — whatever error send itself
// returned on the write that failed.
func (c *Chain) ProcessAndSend(buf *buffer.RefBuffer, send func([]byte) error) error {
	switch c.p.Mode {
	case ModePassthrough:
		if len(buf.Buf) == 0 {
			return ErrNoData
		}
		return send(buf.Buf)
	case ModeEncode:
		return c.processEncode(buf, send)
	case ModeReencode:
		return c.processReencode(buf, send)
	default:
		return ErrFatal
	}
}

func pcmLen(pcm [][]float32) int {
	if len(pcm) == 0 {
		return 0
	}
	return len(pcm[0])
}

// resamplePCM runs pcm through the resample stage when one is configured.
// A PushCheck that predicts no output for a non-empty input is the
// resampler disagreeing with the pipeline, a fatal transform error.
func (c *Chain) resamplePCM(pcm [][]float32) ([][]float32, error) {
	if c.resampleState == nil || pcmLen(pcm) == 0 {
		return pcm, nil
	}
	if c.resampleState.PushCheck(pcmLen(pcm)) <= 0 {
		return nil, ErrFatal
	}
	return c.resampleState.Push(pcm), nil
}

// pcm16ToFloatPlanar converts interleaved 16-bit PCM into planar float32 in
// [-1, 1), the shape every downstream stage (resample, encode) expects.
func pcm16ToFloatPlanar(buf []byte, channels int, bigEndian bool) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 2 * channels
	frames := len(buf) / frameBytes

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		for ch := 0; ch < channels; ch++ {
			off := base + ch*2
			var sample int16
			if bigEndian {
				sample = int16(buf[off])<<8 | int16(uint16(buf[off+1]))
			} else {
				sample = int16(buf[off+1])<<8 | int16(uint16(buf[off]))
			}
			out[ch][i] = float32(sample) / 32768.0
		}
	}
	return out
}

func (c *Chain) toFloatPCM(raw []byte) [][]float32 {
	if c.downmixState != nil {
		mono := c.downmixState.Buffer(raw, c.p.BigEndian)
		return [][]float32{append([]float32(nil), mono...)}
	}
	return pcm16ToFloatPlanar(raw, c.p.SourceChannels, c.p.BigEndian)
}

// startEncoder builds a fresh Vorbis encoder for a new logical output
// stream and immediately flushes its header pages through send, matching
// encode.c's start_vorbis + the dedicated forced-flush of the header page
// that always precedes the first audio page.
func (c *Chain) startEncoder(params vorbiscodec.EncodeParams, send func([]byte) error) error {
	params.Serialno = vorbiscodec.NextSerialno()
	enc, err := vorbiscodec.NewEncoder(params)
	if err != nil {
		return ErrFatal
	}
	for k, v := range c.p.Comments {
		enc.AddTag(k, v)
	}
	headers, err := enc.WriteHeaders()
	if err != nil {
		enc.Close()
		return ErrFatal
	}
	c.encoder = enc
	c.samplesInPage = 0
	for _, pg := range headers {
		if err := send(pg.Header); err != nil {
			return err
		}
		if err := send(pg.Body); err != nil {
			return err
		}
	}
	return nil
}

// finishEncoder drains the resampler's remaining history into the encoder,
// signals end-of-stream, and flushes every trailing page through send,
// mirroring encode.c's shutdown sequence run before a logical-stream
// restart (§4.6, §4.7 "finish the encoder... flush remaining pages").
func (c *Chain) finishEncoder(send func([]byte) error) error {
	if c.encoder == nil {
		return nil
	}
	if c.resampleState != nil {
		rem := c.resampleState.Drain()
		if err := c.encoder.SubmitPCM(rem); err != nil {
			return ErrFatal
		}
	}
	if err := c.encoder.Finish(); err != nil {
		return ErrFatal
	}
	pages, err := c.encoder.Flush(true)
	if err != nil {
		return ErrFatal
	}
	for _, pg := range pages {
		if err := send(pg.Header); err != nil {
			return err
		}
		if err := send(pg.Body); err != nil {
			return err
		}
	}
	c.encoder.Close()
	c.encoder = nil
	return nil
}

// processEncode implements §4.7's "Encode path (PCM → Vorbis)".
func (c *Chain) processEncode(buf *buffer.RefBuffer, send func([]byte) error) error {
	if buf.Critical {
		if err := c.finishEncoder(send); err != nil {
			return err
		}
		if c.resampleState != nil {
			c.resampleState.Reset()
		}
	}
	if c.encoder == nil {
		if err := c.startEncoder(c.p.Encode, send); err != nil {
			return err
		}
	}

	pcm, err := c.resamplePCM(c.toFloatPCM(buf.Buf))
	if err != nil {
		return err
	}
	if err := c.encoder.SubmitPCM(pcm); err != nil {
		return ErrFatal
	}
	c.samplesInPage += pcmLen(pcm)

	force := c.samplesInPage >= c.maxSamplesPerPage()
	pages, err := c.encoder.Flush(force)
	if err != nil {
		return ErrFatal
	}
	if len(pages) == 0 {
		return ErrNoData
	}
	c.samplesInPage = 0

	for _, pg := range pages {
		if err := send(pg.Header); err != nil {
			return err
		}
		if err := send(pg.Body); err != nil {
			return err
		}
	}
	return nil
}

// reencodeBoundary implements reencode.c's logical-stream-restart sequence
// (§4.3, §9 "DrainOld → ClearOld → InitNew"): finish and flush the current
// output encoder before tearing it down, then open a fresh decode Stream
// bound to the new upstream serial number.
func (c *Chain) reencodeBoundary(newSerialno int, send func([]byte) error) error {
	if err := c.finishEncoder(send); err != nil {
		return err
	}
	if c.decodeStream != nil {
		c.decodeStream.Close()
	}
	if c.resampleState != nil {
		c.resampleState.Reset()
	}
	c.decodeStream = vorbiscodec.NewStream(newSerialno)
	c.curSerialno = newSerialno
	c.needHeaders = 3
	return nil
}

// startEncoderFromUpstream bootstraps the output encoder once the upstream
// Vorbis headers have been read, wiring Resample/Downmix to the configured
// output rate/channels, defaulting to the upstream's own when the instance
// didn't override them (§4.3 "Reencode... wires the Resample and Downmix
// stages as dictated by the configured output rate/channels").
func (c *Chain) startEncoderFromUpstream(send func([]byte) error) error {
	params := c.p.Encode
	upstreamRate := int(c.decodeStream.SampleRate())
	upstreamChannels := int(c.decodeStream.Channels())

	if params.Rate == 0 {
		params.Rate = upstreamRate
	}
	if params.Channels == 0 {
		params.Channels = upstreamChannels
	}
	if c.downmixState != nil {
		params.Channels = 1
	}
	if params.Channels != upstreamChannels && c.downmixState == nil {
		if params.Channels == 1 && upstreamChannels == 2 {
			// A mono output over a stereo upstream implies a downmix even
			// when the instance didn't ask for one explicitly.
			c.downmixState = downmix.New()
		} else {
			return ErrUnsupportedChannels
		}
	}

	outRate := c.p.OutRate
	if outRate == 0 {
		outRate = params.Rate
	}
	if c.resampleState == nil && upstreamRate != outRate {
		c.resampleState = resample.New(params.Channels, upstreamRate, outRate)
	}

	return c.startEncoder(params, send)
}

// processReencode implements §4.7's "Re-encode path (Vorbis → Vorbis)",
// returning a single concatenated buffer for process_and_send's "send them
// as one raw write" rule — unlike the Encode path, which sends header and
// body separately for every page.
func (c *Chain) processReencode(buf *buffer.RefBuffer, send func([]byte) error) error {
	vp := vorbiscodec.PageFromBytes(buf.Buf, buf.Aux)
	serialno := int(vorbis.OggPageSerialno(&vp))

	if buf.Critical || c.decodeStream == nil || serialno != c.curSerialno {
		if err := c.reencodeBoundary(serialno, send); err != nil {
			return err
		}
	}

	if err := c.decodeStream.PageIn(&vp); err != nil {
		return ErrFatal
	}

	var op vorbis.OggPacket
	for {
		ok, err := c.decodeStream.PacketOut(&op)
		if err != nil {
			return ErrFatal
		}
		if !ok {
			break
		}

		if c.needHeaders > 0 {
			if _, err := c.decodeStream.HeaderIn(&op); err != nil {
				return ErrFatal
			}
			c.needHeaders--
			if c.needHeaders == 0 {
				if err := c.decodeStream.InitSynthesis(); err != nil {
					return ErrFatal
				}
				if err := c.startEncoderFromUpstream(send); err != nil {
					return err
				}
			}
			continue
		}

		pcm, err := c.decodeStream.DecodePacketPCM(&op)
		if err != nil {
			return ErrFatal
		}
		if pcmLen(pcm) == 0 {
			continue
		}
		if c.downmixState != nil {
			mono := c.downmixState.BufferFloat(pcm, pcmLen(pcm))
			pcm = [][]float32{append([]float32(nil), mono...)}
		}
		if pcm, err = c.resamplePCM(pcm); err != nil {
			return err
		}
		if c.encoder == nil {
			return ErrFatal
		}
		if err := c.encoder.SubmitPCM(pcm); err != nil {
			return ErrFatal
		}
		c.samplesInPage += pcmLen(pcm)
	}

	if c.encoder == nil {
		return ErrNoData
	}

	force := c.samplesInPage >= c.maxSamplesPerPage()
	pages, err := c.encoder.Flush(force)
	if err != nil {
		return ErrFatal
	}
	if len(pages) == 0 {
		return ErrNoData
	}
	c.samplesInPage = 0

	var out []byte
	for _, pg := range pages {
		out = append(out, pg.Header...)
		out = append(out, pg.Body...)
	}
	return send(out)
}
