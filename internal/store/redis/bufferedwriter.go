package redis

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

// BufferedPublisher wraps a Publisher so that samples published while the
// circuit is open are kept locally and replayed once it closes again.
type BufferedPublisher struct {
	pub *Publisher
	ctx context.Context
	log *zap.Logger

	mu     sync.Mutex
	buffer []model.Sample
	maxBuf int // oldest samples are dropped beyond this (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a sample is buffered
	OnFlush  func(count int) // called after replaying buffered samples
}

// NewBufferedPublisher registers a flush on the publisher breaker's
// transition to closed. ctx bounds replayed writes.
func NewBufferedPublisher(ctx context.Context, pub *Publisher, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		ctx:    ctx,
		log:    pub.log.Named("buffered"),
		buffer: make([]model.Sample, 0, 256),
		maxBuf: maxBufferSize,
	}

	cb := pub.Breaker()
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Publish sends s through the breaker, buffering it when the circuit is open.
func (bp *BufferedPublisher) Publish(s model.Sample) error {
	err := bp.pub.PublishLatest(bp.ctx, s)
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferSample(s)
		return nil
	}
	return err
}

// Run reads samples from ch and publishes each one. Blocks until ctx is
// cancelled or ch is closed.
func (bp *BufferedPublisher) Run(ctx context.Context, ch <-chan model.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			if err := bp.Publish(s); err != nil {
				bp.log.Warn("publish failed", zap.String("symbol", s.Symbol), zap.Error(err))
			}
		}
	}
}

func (bp *BufferedPublisher) bufferSample(s model.Sample) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, s)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays all buffered samples through the publisher.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]model.Sample, 0, 256)
	bp.mu.Unlock()

	flushed := 0
	for i, s := range toFlush {
		err := bp.pub.PublishLatest(bp.ctx, s)
		if errors.Is(err, ErrCircuitOpen) {
			// reopened mid-flush; keep the rest for the next close
			for _, rest := range toFlush[i:] {
				bp.bufferSample(rest)
			}
			break
		}
		flushed++
	}

	bp.log.Info("flushed buffered samples", zap.Int("count", flushed))
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered samples waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
