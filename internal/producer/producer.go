// Package producer implements the single loop that pulls data from the
// active input module, paces it against wall-clock time, and fans it out
// to every live instance's queue (spec §4.5). Grounded on input.c's
// input_read_loop.
package producer

import (
	"time"

	"sujoyan/icesgo/internal/buffer"
	"sujoyan/icesgo/internal/coordinator"
	"sujoyan/icesgo/internal/icelog"
	"sujoyan/icesgo/internal/input"
	"sujoyan/icesgo/internal/timing"
	"sujoyan/icesgo/internal/vorbiscodec"
)

// shutdownDrainDelay is input_read_loop's 250ms "let instance threads
// finish" poll interval, used both while waiting out shutdown and in the
// final drain.
const shutdownDrainDelay = 250 * time.Millisecond

// Consumer is the producer's view of one streaming instance: the flags
// that gate fan-out, the queue it fills, and the teardown hooks reaping
// needs. *instance.Instance is the production implementation.
type Consumer interface {
	Died() bool
	Skip() bool
	WaitingForCritical() bool
	ClearWaitingForCritical()
	MaxQueueLen() int
	Queue() *buffer.Queue
	FlushKeepingCritical()
	FlushAll()
	Close()
}

// Producer owns the input module and the live instance list.
type Producer struct {
	in        input.Module
	instances []Consumer
	ctx       *coordinator.Context
	log       *icelog.Logger

	control     *timing.Control
	validStream bool
}

// New builds a Producer over the given input module and initial instance
// set.
func New(in input.Module, instances []Consumer, ctx *coordinator.Context, log *icelog.Logger) *Producer {
	// The stream starts valid: PCM inputs never produce a critical chunk
	// until a track boundary, and must still flow from the first read.
	// Only a pacing failure invalidates it, until the next critical chunk.
	return &Producer{in: in, instances: instances, ctx: ctx, log: log, validStream: true}
}

// Run executes the producer loop until every instance has been reaped or
// shutdown drains it out. It returns once the process is ready to exit.
func (p *Producer) Run() {
	p.control = timing.NewControl(timing.Now())

	for {
		p.reap()
		if len(p.instances) == 0 {
			break
		}

		if p.ctx.Shutdown() {
			time.Sleep(shutdownDrainDelay)
			continue
		}

		buf, err := p.in.GetData()
		if err != nil {
			p.log.Errorf("input module reported a fatal error: %v", err)
			p.ctx.RequestShutdown()
			continue
		}
		if buf == nil {
			continue
		}

		if buf.Critical {
			p.validStream = true
		}
		if p.pace(buf) {
			p.in.HandleEvent(input.EventNextTrack, nil)
			p.validStream = false
		}

		enqueued := 0
		if p.validStream {
			enqueued = p.fanOut(buf)
		}
		buffer.AddCount(buf, enqueued)

		p.ctx.BroadcastQueue()
		time.Sleep(p.control.Sleep(timing.Now()))
	}

	p.ctx.RequestShutdown()
	p.ctx.SignalMetadataPending()
	time.Sleep(shutdownDrainDelay)
	p.in.HandleEvent(input.EventShutdown, nil)
	p.in.Close()
}

// pace advances the timing controller and reports whether pacing failed
// fatally (missing/regressed granule position, unknown sample rate),
// matching §4.5 step 5's "pacing returned a fatal indicator" check.
func (p *Producer) pace(buf *buffer.RefBuffer) (fatal bool) {
	if p.in.Type() == input.TypePCM {
		p.control.CalculatePCMSleep(uint32(len(buf.Buf)), uint32(buf.Aux))
		return false
	}

	page := vorbiscodec.PageFromBytes(buf.Buf, buf.Aux)
	if err := p.control.CalculateOggSleep(&page); err != nil {
		p.log.Warnf("pacing lost sync: %v", err)
		return true
	}
	return false
}

// fanOut enqueues buf to every qualifying instance (§4.5 step 6) and
// forces a logical-stream restart if every live instance is stuck waiting
// for one, to avoid the whole pipeline deadlocking.
func (p *Producer) fanOut(buf *buffer.RefBuffer) (enqueued int) {
	anyNotWaiting := false
	for _, inst := range p.instances {
		if !inst.WaitingForCritical() {
			anyNotWaiting = true
		}
		if inst.WaitingForCritical() && !buf.Critical {
			continue
		}
		if inst.Skip() {
			continue
		}
		if max := inst.MaxQueueLen(); max > 0 && inst.Queue().Len() > max {
			p.log.Warnf("instance queue has exceeded %d buffers, flushing", max)
			inst.FlushKeepingCritical()
		}
		inst.Queue().Enqueue(buf)
		enqueued++
	}

	if !anyNotWaiting && len(p.instances) > 0 {
		p.log.Warnf("every instance is waiting for a logical-stream restart; forcing one")
		p.in.HandleEvent(input.EventNextTrack, nil)
		for _, inst := range p.instances {
			inst.FlushKeepingCritical()
			inst.ClearWaitingForCritical()
		}
	}
	return enqueued
}

// reap drops every instance that has given up, flushing its queue (even
// critical buffers — this instance is gone for good) and releasing its
// resources, per §4.5 step 1.
func (p *Producer) reap() {
	alive := p.instances[:0]
	for _, inst := range p.instances {
		if inst.Died() {
			inst.FlushAll()
			inst.Close()
			continue
		}
		alive = append(alive, inst)
	}
	p.instances = alive
}
