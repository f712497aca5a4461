package mesh

import (
	"time"

	"github.com/clusterfabric/meshbus/pkg/wire"
)

// runWriter holds the write-lock while draining, waking on a signal from
// wakeWriter or a 1s timeout, per spec.md §4.4. Each wake atomically
// detaches the entire queue, broadcasts the throttle condition, then writes
// every detached entry with a freshly rewritten header (see drain for when
// the stream is flushed).
func (p *Peer) runWriter() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.wake:
		case <-ticker.C:
		case <-p.stopCh:
			p.finishIOTask(false)
			return
		}
		if p.net.exiting.Load() || p.decomFlag.Load() {
			p.finishIOTask(false)
			return
		}
		if !p.hasSocket() {
			continue
		}
		entries := p.queue.Detach()
		p.queue.BroadcastThrottle()
		if len(entries) == 0 {
			continue
		}
		if err := p.drain(entries); err != nil {
			p.closeSocket()
			p.finishIOTask(false)
			if p.net.cb.HostDown != nil {
				p.net.cb.HostDown(p.Host())
			}
			return
		}
	}
}

// drain rewrites and writes every entry in order. If any entry carries
// FlagNoDelay the stream is flushed once the whole batch has been written;
// otherwise it is flushed only once every EnqueFlushInterval non-NODELAY
// sends, per spec.md §6's batching note and
// the original's per-peer num_sends counter. Rewriting the header here
// (rather than at enqueue time) matters because this peer's port, or our
// own, may have changed since the message was queued.
func (p *Peer) drain(entries []*entry) error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()

	bw, ok := p.writerHandle()
	if !ok {
		return ErrNoSock
	}
	interval := p.net.cfg.EnqueFlushInterval
	if interval <= 0 {
		interval = 1
	}
	noDelay := false
	for _, e := range entries {
		e.msg.Header.FromHost = p.net.ownHost()
		e.msg.Header.FromPort = p.net.ownPort()
		e.msg.Header.ToHost = p.Host()
		e.msg.Header.ToPort = p.Port()
		if err := wire.WriteFrame(bw, e.msg); err != nil {
			return err
		}
		p.queue.counters.Sends.Add(1)
		p.net.metrics.framesSent.WithLabelValues(e.msg.Header.Type.String()).Inc()

		if e.flags&FlagNoDelay != 0 {
			noDelay = true
			continue
		}
		p.sendsSinceFlush++
		if p.sendsSinceFlush < interval {
			continue
		}
		p.sendsSinceFlush = 0
		if err := bw.Flush(); err != nil {
			return err
		}
		p.queue.counters.Flushes.Add(1)
	}
	if noDelay {
		p.sendsSinceFlush = 0
		if err := bw.Flush(); err != nil {
			return err
		}
		p.queue.counters.Flushes.Add(1)
	}
	return nil
}
