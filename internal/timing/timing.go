// Package timing implements the wall-clock pacing calculations the producer
// uses to avoid running ahead of real time (spec §4.2). It is a direct port
// of input.c's input_calculate_pcm_sleep, input_calculate_ogg_sleep and
// input_sleep, translated from the original's static locals into an
// explicit Control value the producer owns.
package timing

import (
	"errors"
	"time"

	"github.com/xlab/vorbis-go/vorbis"

	"sujoyan/icesgo/internal/vorbiscodec"
)

// ErrCorruptGranule is returned when an Ogg page carries no granule
// position at all, matching input_calculate_ogg_sleep's "corrupt timing
// information" fatal case.
var ErrCorruptGranule = errors.New("timing: page has no granule position")

// ErrStreamMismatch is returned when a page's serial number no longer
// matches the logical stream the controller is tracking.
var ErrStreamMismatch = errors.New("timing: page does not belong to current logical stream")

// Control tracks the producer's notion of "how far ahead of real time have
// we sent." StartTime is milliseconds, sampled once when the producer loop
// starts; SentTime accumulates in microseconds, per
// input_calculate_pcm_sleep's bytes*1e6/bytes_per_sec arithmetic.
type Control struct {
	StartTime int64
	SentTime  int64

	// Vorbis-only bookkeeping, valid once an Ogg input has started feeding
	// pages through CalculateOggSleep.
	serialno        int
	sampleRate      int64
	oldSamples      uint64
	offset          uint64
	firstGranulepos uint64
	needStartPos    bool
	needHeaders     int
	stateInUse      bool
	stream          *vorbiscodec.Stream
}

// Now returns milliseconds, the unit input.c's timing_get_time uses.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewControl returns a Control with StartTime sampled at now (milliseconds).
func NewControl(now int64) *Control {
	return &Control{StartTime: now}
}

// CalculatePCMSleep advances SentTime by the wall-clock duration the given
// number of PCM bytes represents at bytesPerSec, per input_calculate_pcm_sleep.
func (c *Control) CalculatePCMSleep(bytes, bytesPerSec uint32) {
	if bytesPerSec == 0 {
		return
	}
	c.SentTime += int64(uint64(bytes) * 1000000 / uint64(bytesPerSec))
}

// CalculateOggSleep advances SentTime using the granule position carried on
// an Ogg/Vorbis page, per input_calculate_ogg_sleep. It must be called with
// every page of the logical stream, in order, including the BOS page.
func (c *Control) CalculateOggSleep(page *vorbis.OggPage) error {
	granule := vorbis.OggPageGranulepos(page)
	if granule == -1 {
		return ErrCorruptGranule
	}

	if vorbis.OggPageBos(page) == 1 {
		c.oldSamples = 0
		if c.stateInUse {
			c.stream.Close()
		}
		serialno := int(vorbis.OggPageSerialno(page))
		c.stream = vorbiscodec.NewStream(serialno)
		c.serialno = serialno
		c.stateInUse = true
		c.needStartPos = true
		c.needHeaders = 3
		c.offset = 0
	}

	if c.needStartPos {
		if err := c.stream.PageIn(page); err != nil {
			return err
		}

		foundFirstGranule := false
		for {
			var op vorbis.OggPacket
			ok, err := c.stream.PacketOut(&op)
			if err != nil {
				return err
			}
			if !ok {
				break
			}

			if c.needHeaders > 0 {
				if _, err := c.stream.HeaderIn(&op); err != nil {
					c.sampleRate = 0
					return err
				}
				c.needHeaders--
				c.sampleRate = int64(c.stream.SampleRate())
				if c.needHeaders == 0 {
					c.firstGranulepos = 0
					return nil
				}
				continue
			}

			if c.firstGranulepos == 0 && op.Granulepos > 0 {
				c.firstGranulepos = uint64(op.Granulepos)
				foundFirstGranule = true
			}
			c.offset += uint64(c.stream.PacketBlocksize(&op) / 4)
		}

		if !foundFirstGranule {
			return nil
		}

		c.needStartPos = false
		c.oldSamples = c.firstGranulepos - c.offset
		c.stream.Close()
		c.stateInUse = false
	}

	if c.serialno != int(vorbis.OggPageSerialno(page)) {
		return ErrStreamMismatch
	}

	samples := uint64(granule) - c.oldSamples
	c.oldSamples = uint64(granule)

	if c.sampleRate > 0 {
		c.SentTime += int64(samples * 1000000 / uint64(c.sampleRate))
	}
	return nil
}

// maxSleepMS is the cap input_sleep falls back to when the computed sleep
// looks like a clock jump rather than genuine backpressure.
const maxSleepMS = 5000

// clockSkewThresholdMS is input_sleep's ">8000" heuristic: preserved
// verbatim per the spec's own instruction to record clock skew rather than
// normalize it away.
const clockSkewThresholdMS = 8000

// Sleep reports how long the caller should sleep to stay paced with
// SentTime, mirroring input_sleep. now must be milliseconds, the same clock
// StartTime was sampled from. A zero SentTime (nothing sent yet) never
// sleeps.
func (c *Control) Sleep(now int64) time.Duration {
	if c.SentTime == 0 {
		return 0
	}

	sleepMS := c.SentTime/1000 - (now - c.StartTime)
	if sleepMS > clockSkewThresholdMS {
		return maxSleepMS * time.Millisecond
	}
	if sleepMS > 0 {
		return time.Duration(sleepMS) * time.Millisecond
	}
	return 0
}
