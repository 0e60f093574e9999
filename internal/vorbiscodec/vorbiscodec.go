// Package vorbiscodec is a thin, Go-idiomatic facade over
// github.com/xlab/vorbis-go/vorbis, the cgo binding to libogg/libvorbis.
// It exposes exactly the primitives the rest of icesgo needs: Ogg logical
// stream framing, Vorbis header parsing (used by the timing controller and
// the re-encoder), and the analysis/encode path used when an input module
// hands us PCM instead of already-encoded Vorbis.
//
// Grounded on xlab-vorbis-go/decoder/decoder.go, which demonstrates the
// decode-side call shape (OggSyncInit/OggStreamInit/SynthesisHeaderin/
// Synthesis/SynthesisBlockin/SynthesisPcmout/SynthesisRead); the encode-side
// names below follow the same libvorbis naming convention for the
// analysis/encode half of the API that decoder.go does not exercise.
package vorbiscodec

import (
	"errors"
	"sync"

	"github.com/xlab/vorbis-go/vorbis"
)

var (
	ErrNotVorbis     = errors.New("vorbiscodec: packet is not a Vorbis header")
	ErrBadHeaderSeq  = errors.New("vorbiscodec: out of sequence Vorbis header")
	ErrEncodeInit    = errors.New("vorbiscodec: encoder initialization failed")
	ErrWrongChannels = errors.New("vorbiscodec: input channel count does not match stream")
)

// Stream wraps one logical Ogg bitstream plus, optionally, the Vorbis
// info/comment/dsp/block state needed to decode its headers or encode new
// audio into it.
type Stream struct {
	Serialno int

	oss vorbis.OggStreamState
	vi  vorbis.Info
	vc  vorbis.Comment
	vd  vorbis.DspState
	vb  vorbis.Block

	headersRead  int
	dspInit      bool
	analysisInit bool
}

// serialMu guards allocation of fresh serial numbers across every encoder
// instance in the process, mirroring the spec's "Vorbis encoder
// serial-number selection" invariant: no two logical streams encoded by
// this process may collide.
var (
	serialMu   sync.Mutex
	nextSerial = 1
)

// NextSerialno returns a process-unique Ogg serial number for a freshly
// started logical stream.
func NextSerialno() int {
	serialMu.Lock()
	defer serialMu.Unlock()
	s := nextSerial
	nextSerial++
	return s
}

// NewStream opens a Stream for decoding or re-encoding headers, bound to
// the given Ogg serial number.
func NewStream(serialno int) *Stream {
	s := &Stream{Serialno: serialno}
	vorbis.OggStreamInit(&s.oss, serialno)
	vorbis.InfoInit(&s.vi)
	vorbis.CommentInit(&s.vc)
	return s
}

// Close releases every native resource the Stream holds.
func (s *Stream) Close() {
	if s.analysisInit {
		vorbis.BlockClear(&s.vb)
	}
	if s.dspInit {
		vorbis.DspClear(&s.vd)
	}
	vorbis.CommentClear(&s.vc)
	vorbis.InfoClear(&s.vi)
	vorbis.OggStreamClear(&s.oss)
}

// SampleRate returns the stream's sample rate. Valid only once all three
// headers have been consumed via HeaderIn.
func (s *Stream) SampleRate() int { return int(s.vi.Rate) }

// Channels returns the stream's channel count. Valid only once all three
// headers have been consumed via HeaderIn.
func (s *Stream) Channels() int { return int(s.vi.Channels) }

// PageIn submits a complete Ogg page to the stream's demultiplexer.
func (s *Stream) PageIn(page *vorbis.OggPage) error {
	if vorbis.OggStreamPagein(&s.oss, page) < 0 {
		return errors.New("vorbiscodec: page does not belong to this logical stream")
	}
	return nil
}

// PacketOut pulls the next fully reassembled packet from the stream. It
// returns ok=false when the current page has no more packets ready.
func (s *Stream) PacketOut(op *vorbis.OggPacket) (ok bool, err error) {
	switch vorbis.OggStreamPacketout(&s.oss, op) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, errors.New("vorbiscodec: packet out of sync, data missing")
	}
}

// HeaderIn decodes one of the three leading Vorbis header packets
// (identification, comment, setup) in order. It returns the number of
// header packets still needed, 0 once all three have been consumed.
func (s *Stream) HeaderIn(op *vorbis.OggPacket) (remaining int, err error) {
	if vorbis.SynthesisHeaderin(&s.vi, &s.vc, op) < 0 {
		if s.headersRead == 0 {
			return 3, ErrNotVorbis
		}
		return 3 - s.headersRead, ErrBadHeaderSeq
	}
	s.headersRead++
	if s.headersRead == 3 {
		// Populate the Go-side view of the cgo struct so Rate/Channels
		// read back correctly, as decoder.go does after its header loop.
		s.vi.Deref()
	}
	return 3 - s.headersRead, nil
}

// PacketBlocksize returns the block size, in samples, that the given audio
// packet was encoded with. Used by the timing controller to reconstruct
// granule-position offsets across a re-synced logical stream (spec §4.2).
func (s *Stream) PacketBlocksize(op *vorbis.OggPacket) int {
	return int(vorbis.PacketBlocksize(&s.vi, op))
}

// InitSynthesis prepares the stream to decode PCM from packets already past
// the three leading headers, matching decoder.go's Decode() setup
// (SynthesisInit + BlockInit) once headersRead reaches 3.
func (s *Stream) InitSynthesis() error {
	if vorbis.SynthesisInit(&s.vd, &s.vi) < 0 {
		return errors.New("vorbiscodec: synthesis init failed")
	}
	s.dspInit = true
	vorbis.BlockInit(&s.vd, &s.vb)
	s.analysisInit = true
	return nil
}

// DecodePacketPCM decodes one audio packet into planar float32 PCM,
// following decoder.go's readNextPage inner loop (Synthesis/SynthesisBlockin/
// SynthesisPcmout/SynthesisRead) but draining every available PCM frame for
// the packet in one call instead of chunking into fixed-size frames, since
// the re-encoder wants whole-packet PCM to hand to downmix/resample.
func (s *Stream) DecodePacketPCM(op *vorbis.OggPacket) ([][]float32, error) {
	if vorbis.Synthesis(&s.vb, op) != 0 {
		// Not an audio packet (e.g. stray header); nothing to decode.
		return nil, nil
	}
	vorbis.SynthesisBlockin(&s.vd, &s.vb)

	channels := int(s.vi.Channels)
	out := make([][]float32, channels)

	pcmBuf := make([][][]float32, 1)
	pcmBuf[0] = make([][]float32, channels)
	for {
		samples := vorbis.SynthesisPcmout(&s.vd, pcmBuf)
		if samples <= 0 {
			break
		}
		for ch := 0; ch < channels; ch++ {
			out[ch] = append(out[ch], pcmBuf[0][ch][:samples]...)
		}
		vorbis.SynthesisRead(&s.vd, samples)
	}
	return out, nil
}

// BitrateMode selects how the Vorbis encoder manages its target bitrate,
// mirroring encode.c's three exclusive modes (§4.3).
type BitrateMode int

const (
	// BitrateVBR targets a quality factor (libvorbis's -0.1..1.0, see
	// vbrQuality).
	BitrateVBR BitrateMode = iota
	// BitrateManaged targets an explicit min/nominal/max bitrate triple.
	BitrateManaged
	// BitrateABR targets a single nominal average bitrate.
	BitrateABR
)

// SelectBitrateMode implements encode.c's start_vorbis mode selection
// (§4.3): VBR by quality when no bitrate was given at all, an explicit
// managed {min,nominal,max} triple when managed is requested or a nominal
// bitrate is given together with a minimum or maximum, else a single-value
// average-bitrate target.
func SelectBitrateMode(managed bool, minBr, nomBr, maxBr int) BitrateMode {
	if minBr < 0 && nomBr < 0 && maxBr < 0 {
		return BitrateVBR
	}
	if managed && (minBr >= 0 || nomBr >= 0 || maxBr >= 0) {
		return BitrateManaged
	}
	if nomBr >= 0 && !managed && (minBr >= 0 || maxBr >= 0) {
		return BitrateManaged
	}
	return BitrateABR
}

// EncodeParams configures a new Vorbis encoder, mirroring encode.c's
// start_vorbis.
type EncodeParams struct {
	Channels   int
	Rate       int
	Mode       BitrateMode
	Quality    float32 // BitrateVBR, on the configuration's 0-10 scale
	MinBitrate int     // BitrateManaged
	NomBitrate int     // BitrateManaged, BitrateABR
	MaxBitrate int     // BitrateManaged
	Serialno   int
}

// vbrQuality maps the configuration's 0-10 quality scale onto libvorbis's
// -0.1..1.0 VBR quality parameter (encode.c passes quality*0.1).
func vbrQuality(q float32) float32 {
	return q * 0.1
}

// Page is one Ogg page split into its header and body byte ranges,
// matching process_and_send's habit (§4.7) of writing a page as two
// successive network writes: header then body.
type Page struct {
	Header []byte
	Body   []byte
}

func splitPage(page *vorbis.OggPage) Page {
	return Page{
		Header: append([]byte(nil), page.Header...),
		Body:   append([]byte(nil), page.Body...),
	}
}

// PageFromBytes rebuilds a cgo vorbis.OggPage view over a raw Ogg page byte
// slice, splitting it at headerLen. Used by both the timing controller's
// Ogg pacing and the re-encoder, which both receive pages as the flat bytes
// a RefBuffer carries (oggpage.Page.Encode's output) rather than as a
// vorbis.OggPage the producer built directly. headerLen <= 0 or out of
// range falls back to the fixed 27-byte fixed header, the minimum any valid
// page has.
func PageFromBytes(data []byte, headerLen int64) vorbis.OggPage {
	if headerLen <= 0 || int(headerLen) > len(data) {
		headerLen = 27
	}
	return vorbis.OggPage{Header: data[:headerLen], Body: data[headerLen:]}
}

// Encoder wraps an analysis-side Vorbis encode pipeline: PCM in, Ogg pages
// out. Grounded on encode.c's vorbis_analysis/vorbis_bitrate/ogg_stream_*
// call sequence.
type Encoder struct {
	Stream
}

// NewEncoder opens a fresh Vorbis encoder for the given parameters.
func NewEncoder(p EncodeParams) (*Encoder, error) {
	e := &Encoder{}
	vorbis.OggStreamInit(&e.oss, p.Serialno)
	e.Serialno = p.Serialno
	vorbis.InfoInit(&e.vi)

	var ret int
	switch p.Mode {
	case BitrateVBR:
		ret = vorbis.EncodeInitVbr(&e.vi, int32(p.Channels), int32(p.Rate), vbrQuality(p.Quality))
	case BitrateManaged:
		ret = vorbis.EncodeInit(&e.vi, int32(p.Channels), int32(p.Rate),
			int32(p.MaxBitrate), int32(p.NomBitrate), int32(p.MinBitrate))
	case BitrateABR:
		ret = vorbis.EncodeInit(&e.vi, int32(p.Channels), int32(p.Rate), -1, int32(p.NomBitrate), -1)
	}
	if ret < 0 {
		vorbis.InfoClear(&e.vi)
		vorbis.OggStreamClear(&e.oss)
		return nil, ErrEncodeInit
	}

	vorbis.CommentInit(&e.vc)
	if vorbis.AnalysisInit(&e.vd, &e.vi) < 0 {
		vorbis.CommentClear(&e.vc)
		vorbis.InfoClear(&e.vi)
		vorbis.OggStreamClear(&e.oss)
		return nil, ErrEncodeInit
	}
	e.dspInit = true
	vorbis.BlockInit(&e.vd, &e.vb)
	e.analysisInit = true
	return e, nil
}

// AddTag attaches a Vorbis comment field (ARTIST, TITLE, ...).
func (e *Encoder) AddTag(key, value string) {
	vorbis.CommentAddTag(&e.vc, key, value)
}

// WriteHeaders emits the three leading header pages (identification,
// comment, setup) packed into as few Ogg pages as libvorbis chooses,
// forcing them out immediately via ogg_stream_flush so a client sees
// headers before the first audio page.
func (e *Encoder) WriteHeaders() ([]Page, error) {
	var header, commentPkt, code vorbis.OggPacket
	if vorbis.AnalysisHeaderout(&e.vd, &e.vc, &header, &commentPkt, &code) < 0 {
		return nil, errors.New("vorbiscodec: failed to build header packets")
	}
	vorbis.OggStreamPacketin(&e.oss, &header)
	vorbis.OggStreamPacketin(&e.oss, &commentPkt)
	vorbis.OggStreamPacketin(&e.oss, &code)

	var pages []Page
	for {
		var op vorbis.OggPage
		if vorbis.OggStreamFlush(&e.oss, &op) == 0 {
			break
		}
		pages = append(pages, splitPage(&op))
	}
	return pages, nil
}

// drainBlocks pushes every fully formed analysis block into Vorbis bitrate
// management and on into the Ogg stream as packets, per encode.c's
// blockout/analysis/bitrate_addblock/bitrate_flushpacket loop. Pages are not
// pulled here; call Flush afterward.
func (e *Encoder) drainBlocks() error {
	for {
		ret := vorbis.AnalysisBlockout(&e.vd, &e.vb)
		if ret == 0 {
			break
		}
		if ret < 0 {
			return errors.New("vorbiscodec: analysis blockout failed")
		}
		vorbis.Analysis(&e.vb, nil)
		vorbis.BitrateAddblock(&e.vb)

		var op vorbis.OggPacket
		for vorbis.BitrateFlushpacket(&e.vd, &op) != 0 {
			vorbis.OggStreamPacketin(&e.oss, &op)
		}
	}
	return nil
}

// SubmitPCM feeds planar float32 PCM (one slice per channel) into the
// analysis buffer and immediately drains whatever blocks that completes
// into Ogg packets, matching vorbis_analysis_wrote followed by the usual
// blockout loop in encode.c.
func (e *Encoder) SubmitPCM(pcm [][]float32) error {
	n := 0
	if len(pcm) > 0 {
		n = len(pcm[0])
	}
	buf := vorbis.AnalysisBuffer(&e.vd, int32(n))
	for ch := range pcm {
		copy(buf[ch][:n], pcm[ch])
	}
	vorbis.AnalysisWrote(&e.vd, int32(n))
	return e.drainBlocks()
}

// Finish signals end-of-stream to the analysis pipeline (vorbis_analysis_
// wrote(vd, 0), per encode.c's shutdown path) and drains every block that
// produces into packets, so a following Flush(true) can pull the last
// pages.
func (e *Encoder) Finish() error {
	vorbis.AnalysisWrote(&e.vd, 0)
	return e.drainBlocks()
}

// Flush pulls every Ogg page the stream currently has packets ready for.
// force selects ogg_stream_flush (used both for Finish's final drain and
// for encode.c's forced-flush-on-max-samples-ppage latency bound) over the
// default ogg_stream_pageout, which packs more packets per page when it
// can.
func (e *Encoder) Flush(force bool) ([]Page, error) {
	var pages []Page
	for {
		var page vorbis.OggPage
		var got int
		if force {
			got = vorbis.OggStreamFlush(&e.oss, &page)
		} else {
			got = vorbis.OggStreamPageout(&e.oss, &page)
		}
		if got == 0 {
			break
		}
		pages = append(pages, splitPage(&page))
	}
	return pages, nil
}
