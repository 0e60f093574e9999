// Package instance implements one streaming destination's lifecycle:
// connect-with-retry, the process_and_send send loop, and the reconnect
// state machine (spec §4.6). Grounded on stream.c's thread body, with the
// retry/backoff shape translated from its sleep-and-loop style.
package instance

import (
	"errors"
	"sync"
	"time"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/config"
	"sujoyan/icesgo/internal/coordinator"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/input"
	"sujoyan/icesgo/internal/savefile"
	"sujoyan/icesgo/internal/source"
	"sujoyan/icesgo/internal/transform"
	"sujoyan/icesgo/internal/vorbiscodec"
)

// maxBufferFailures mirrors stream.c's "buffer_failures > 10" exit
// condition (§4.6 step 1).
const maxBufferFailures = 10

// Instance is one configured (host, port, mount) destination with its own
// queue, transform chain, and connection.
type Instance struct {
	name string
	cfg  config.Instance

	connParams source.Params

	log   *icelog.Logger
	ctx   *coordinator.Context
	queue *buffer.Queue
	chain *transform.Chain
	save  *savefile.Writer

	conn *source.Conn

	// mu guards the fields the producer and this instance's own goroutine
	// both touch: skip/waitForCritical gate fan-out (§4.5 step 6, §4.6's
	// last two paragraphs), died marks the instance for reaping.
	mu              sync.Mutex
	skip            bool
	waitForCritical bool
	died            bool

	flushMu sync.Mutex

	bufferFailures int
}

// New builds an Instance from its configuration, the stream-wide metadata
// defaults (overridden by any instance-local <metadata>), and the
// producer's input module, whose type decides whether the transform chain
// runs Encode, Reencode, or Passthrough, and whose PCM geometry (when it
// has one) fills in any encoder parameters the configuration left unset.
func New(name string, cfg config.Instance, streamMeta config.StreamMetadata, src input.Module, log *icelog.Logger, ctx *coordinator.Context) (*Instance, error) {
	meta := streamMeta
	if cfg.Metadata.Name != nil {
		meta.Name = *cfg.Metadata.Name
	}
	if cfg.Metadata.Genre != nil {
		meta.Genre = *cfg.Metadata.Genre
	}
	if cfg.Metadata.Description != nil {
		meta.Description = *cfg.Metadata.Description
	}
	if cfg.Metadata.URL != nil {
		meta.URL = *cfg.Metadata.URL
	}

	inst := &Instance{
		name:  name,
		cfg:   cfg,
		log:   log,
		ctx:   ctx,
		queue: buffer.NewQueue(),
	}

	inst.connParams = source.Params{
		Hostname:    cfg.Hostname,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Mount:       cfg.Mount,
		Public:      cfg.Public,
		Name:        meta.Name,
		Genre:       meta.Genre,
		Description: meta.Description,
		URL:         meta.URL,
		ContentType: "application/ogg",
		Bitrate:     *cfg.Encode.NomBitrate,
	}
	if cfg.Encode.Quality != nil {
		inst.connParams.Quality = *cfg.Encode.Quality
		inst.connParams.HasQuality = true
	}

	mode := transform.ModePassthrough
	switch {
	case cfg.Reencode:
		mode = transform.ModeReencode
	case src.Type() == input.TypePCM:
		mode = transform.ModeEncode
	}

	srcRate, srcChannels, bigEndian := 44100, 2, false
	if pcm, ok := src.(input.PCMSource); ok {
		srcRate, srcChannels, bigEndian = pcm.PCMFormat()
	}

	params := transform.Params{
		Mode:              mode,
		Downmix:           cfg.Downmix,
		BigEndian:         bigEndian,
		InRate:            cfg.Resample.InRate,
		OutRate:           cfg.Resample.OutRate,
		SourceChannels:    srcChannels,
		MaxSamplesPerPage: cfg.Encode.FlushSamples,
		Comments: map[string]string{
			"ARTIST": meta.Name,
			"TITLE":  meta.Description,
		},
	}
	if params.OutRate != 0 && params.InRate == 0 {
		params.InRate = srcRate
	}
	params.Encode.Channels = cfg.Encode.Channels
	params.Encode.Rate = cfg.Encode.SampleRate
	if mode == transform.ModeEncode {
		// The re-encode path derives unset rate/channels from the upstream
		// Vorbis headers instead; only a PCM encode needs them up front.
		if params.Encode.Rate == 0 {
			if params.OutRate != 0 {
				params.Encode.Rate = params.OutRate
			} else {
				params.Encode.Rate = srcRate
			}
		}
		if params.Encode.Channels == 0 {
			params.Encode.Channels = srcChannels
		}
	}
	params.Encode.MinBitrate = *cfg.Encode.MinBitrate
	params.Encode.NomBitrate = *cfg.Encode.NomBitrate
	params.Encode.MaxBitrate = *cfg.Encode.MaxBitrate
	params.Encode.Mode = vorbiscodec.SelectBitrateMode(cfg.Encode.Managed, params.Encode.MinBitrate, params.Encode.NomBitrate, params.Encode.MaxBitrate)
	if cfg.Encode.Quality != nil {
		params.Encode.Quality = *cfg.Encode.Quality
	}

	inst.chain = transform.New(params)

	if cfg.SaveFile != "" {
		w, err := savefile.Open(cfg.SaveFile, log)
		if err != nil {
			inst.chain.Close()
			return nil, err
		}
		inst.save = w
	}

	return inst, nil
}

// Queue returns the instance's FIFO, for the producer's fan-out pass.
func (in *Instance) Queue() *buffer.Queue { return in.queue }

// MaxQueueLen returns the configured bound on the instance's queue; the
// producer flushes the queue (keeping critical buffers) when it grows
// past this.
func (in *Instance) MaxQueueLen() int { return in.cfg.MaxQueueLen }

// WaitingForCritical reports whether this instance currently discards
// every non-critical buffer it's offered (reconnect in progress).
func (in *Instance) WaitingForCritical() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.waitForCritical
}

// ClearWaitingForCritical lifts the wait gate without a critical buffer
// arriving. The producer uses it after forcing a track change when every
// live instance was stuck waiting for a restart, so the next chunk can
// enqueue again.
func (in *Instance) ClearWaitingForCritical() {
	in.mu.Lock()
	in.waitForCritical = false
	in.mu.Unlock()
}

// Skip reports whether the producer should withhold new work entirely
// (mid-reconnect, queue already flushed).
func (in *Instance) Skip() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.skip
}

// Died reports whether this instance has given up for good and is ready
// to be reaped.
func (in *Instance) Died() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.died
}

// FlushKeepingCritical flushes the queue under the flush mutex, keeping
// buffers marked critical, matching §5's "queue-flush under the flush
// mutex and the queue mutex" rule.
func (in *Instance) FlushKeepingCritical() {
	in.flushMu.Lock()
	in.queue.Flush(true)
	in.flushMu.Unlock()
}

// FlushAll drops every buffer in the queue, critical or not, matching
// §4.5 step 1's reap behavior: an instance that's being torn down entirely
// has no use for a restart point.
func (in *Instance) FlushAll() {
	in.flushMu.Lock()
	in.queue.Flush(false)
	in.flushMu.Unlock()
}

func (in *Instance) setDied() {
	in.mu.Lock()
	in.died = true
	in.mu.Unlock()
}

// SetComments refreshes the Vorbis comments a future encoder restart will
// carry, per §4.7's "refresh comments via input.metadata_update if
// supported" step.
func (in *Instance) SetComments(m map[string]string) {
	in.chain.SetComments(m)
}

// Close releases the instance's transform chain, connection, and save
// file. Called by the producer once the instance has been reaped.
func (in *Instance) Close() {
	if in.conn != nil {
		in.conn.Close()
	}
	if in.save != nil {
		in.save.Close()
	}
	in.chain.Close()
}

// Run is the instance's goroutine entry point: connect with retry, then
// run the streaming loop until shutdown or a permanent failure.
func (in *Instance) Run() {
	if !in.connectWithRetry() {
		in.log.Errorf("[%s] giving up after exhausting reconnect attempts", in.name)
		in.setDied()
		return
	}
	in.streamLoop()
	in.setDied()
}

func (in *Instance) connectWithRetry() bool {
	conn, err := source.Connect(in.connParams)
	if err == nil {
		in.conn = conn
		return true
	}
	in.log.Warnf("[%s] initial connect failed: %v", in.name, err)
	if !in.cfg.RetryInitial {
		return false
	}

	tries := 0
	for in.cfg.ReconnTries < 0 || tries < in.cfg.ReconnTries {
		if in.ctx.Shutdown() {
			return false
		}
		time.Sleep(time.Duration(in.cfg.ReconnDelay) * time.Second)
		conn, err := source.Connect(in.connParams)
		if err == nil {
			in.conn = conn
			return true
		}
		in.log.Warnf("[%s] reconnect attempt %d failed: %v", in.name, tries+1, err)
		tries++
	}
	return false
}

// streamLoop is stream.c's per-instance thread body (§4.6 "Streaming
// loop").
func (in *Instance) streamLoop() {
	for {
		if in.bufferFailures > maxBufferFailures {
			in.log.Errorf("[%s] too many buffer failures, exiting", in.name)
			return
		}

		in.waitForData()
		if in.ctx.Shutdown() && in.queue.Empty() {
			return
		}

		buf := in.queue.Dequeue()
		if buf == nil || len(buf.Buf) == 0 {
			in.bufferFailures++
			continue
		}

		in.mu.Lock()
		if in.waitForCritical {
			in.log.Infof("[%s] restarting on new logical stream", in.name)
			in.waitForCritical = false
		}
		in.mu.Unlock()

		err := in.chain.ProcessAndSend(buf, in.sendAndSave)
		switch {
		case err == nil:
			// sent
		case err == transform.ErrNoData:
			// continue
		case errors.Is(err, transform.ErrFatal):
			in.mu.Lock()
			in.waitForCritical = true
			in.mu.Unlock()
			in.FlushKeepingCritical()
		default:
			if !in.handleSendError(err) {
				buffer.Release(buf)
				return
			}
		}

		buffer.Release(buf)
	}
}

// waitForData blocks until the queue has data or shutdown is requested.
// An empty queue decays bufferFailures by one per call: the counter is
// tied to the queue draining, not to send success, so a backlog of bad
// buffers still trips the cap while a healthy, keeping-up instance
// forgives old failures.
func (in *Instance) waitForData() {
	if in.queue.Empty() && in.bufferFailures > 0 {
		in.bufferFailures--
	}
	for in.queue.Empty() && !in.ctx.Shutdown() {
		in.ctx.WaitQueue()
	}
}

// sendAndSave writes b to the network connection, then mirrors it to the
// save file if one is open, matching §4.7's "every send also writes the
// same bytes to savefile" rule.
func (in *Instance) sendAndSave(b []byte) error {
	if err := in.conn.Send(b); err != nil {
		return err
	}
	if in.save != nil {
		in.save.Write(b)
	}
	return nil
}

// handleSendError implements §4.6's send-error handling paragraph. It
// returns false when the instance should give up for good.
func (in *Instance) handleSendError(err error) bool {
	var srcErr *source.Error
	if e, ok := err.(*source.Error); ok {
		srcErr = e
	}
	if srcErr == nil || srcErr.Kind != source.KindSocket {
		in.log.Errorf("[%s] non-socket send error: %v", in.name, err)
		return false
	}

	in.mu.Lock()
	in.skip = true
	in.mu.Unlock()
	in.FlushKeepingCritical()
	if in.conn != nil {
		in.conn.Close()
		in.conn = nil
	}

	tries := 0
	for in.cfg.ReconnTries < 0 || tries < in.cfg.ReconnTries {
		if in.ctx.Shutdown() {
			return false
		}
		conn, cerr := source.Connect(in.connParams)
		if cerr == nil {
			in.conn = conn
			in.mu.Lock()
			in.skip = false
			in.waitForCritical = true
			in.mu.Unlock()
			in.FlushKeepingCritical()
			return true
		}
		in.log.Warnf("[%s] reconnect after send error, attempt %d: %v", in.name, tries+1, cerr)
		time.Sleep(time.Duration(in.cfg.ReconnDelay) * time.Second)
		tries++
	}

	// Exhausted retries: force the outer loop to exit via the buffer-failure
	// cap, matching §4.6's "hitting the cap forces buffer_failures = 11".
	in.bufferFailures = maxBufferFailures + 1
	return true
}
