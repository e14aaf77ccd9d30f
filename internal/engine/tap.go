package engine

import (
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

// counters outlive individual taps so Stats covers the driver's lifetime.
type counters struct {
	delivered atomic.Uint64
	overruns  atomic.Uint64
}

// tap carries buffers from the real-time callback to the handler goroutine.
type tap struct {
	format  audio.Format
	onChunk ChunkHandler
	stats   *counters

	queue    chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func newTap(format audio.Format, queueSize int, onChunk ChunkHandler, stats *counters) *tap {
	t := &tap{
		format:  format,
		onChunk: onChunk,
		stats:   stats,
		queue:   make(chan []byte, queueSize),
		stop:    make(chan struct{}),
	}
	go t.run()
	return t
}

// offer runs on the real-time thread. It copies the hardware memory and
// never blocks: a full queue drops the buffer and counts an overrun.
func (t *tap) offer(samples []byte) {
	select {
	case <-t.stop:
		return
	default:
	}

	owned := make([]byte, len(samples))
	copy(owned, samples)

	select {
	case t.queue <- owned:
	default:
		t.stats.overruns.Add(1)
	}
}

func (t *tap) run() {
	for {
		select {
		case <-t.stop:
			return
		case data := <-t.queue:
			select {
			case <-t.stop:
				return
			default:
			}

			buf, ok := audio.NewChunk(data, t.format).Planar()
			if !ok {
				continue
			}
			t.stats.delivered.Add(1)
			t.onChunk(buf)
		}
	}
}

// close stops delivery. Buffers still queued are discarded. It does not wait
// for a running handler, which may itself be the caller.
func (t *tap) close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
