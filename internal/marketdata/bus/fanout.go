// Package bus broadcasts price samples from one producer to several
// independent consumers without letting a slow consumer stall the producer.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cryptocollector/internal/model"
)

// FanOut broadcasts samples from a single input channel to N output channels.
// If an output channel is full the sample is dropped for that consumer only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Sample
	names   []string
	bufSize int
	log     *zap.Logger

	// OnDrop is called when a sample is dropped for a subscriber.
	OnDrop func(subscriber string, s model.Sample)
}

// New creates a FanOut with the given buffer size for output channels.
// A nil log discards drop messages.
func New(outputBufferSize int, log *zap.Logger) *FanOut {
	if log == nil {
		log = zap.NewNop()
	}
	return &FanOut{
		bufSize: outputBufferSize,
		log:     log.Named("bus"),
	}
}

// Subscribe creates and returns a new named output channel. Subscribe must be
// called before Run.
func (f *FanOut) Subscribe(name string) <-chan model.Sample {
	ch := make(chan model.Sample, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed, then closes every output.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Sample) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-input:
			if !ok {
				return
			}
			f.publish(s)
		}
	}
}

func (f *FanOut) publish(s model.Sample) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ch := range f.outputs {
		select {
		case ch <- s:
		default:
			if f.OnDrop != nil {
				f.OnDrop(f.names[i], s)
			} else {
				f.log.Warn("output channel full, dropping sample",
					zap.String("subscriber", f.names[i]),
					zap.String("symbol", s.Symbol),
					zap.Time("ts", s.TS))
			}
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
// Used for reporting channel saturation percentage.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
