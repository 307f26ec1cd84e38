package engine

import (
	"context"
	"sync"
	"time"
)

// FrameClock drives the render loop. It delivers the elapsed time in
// seconds since Start, never decreasing, starting with 0.
type FrameClock interface {
	Start(ctx context.Context) <-chan float64
	Stop()
}

// ClockFactory builds a clock for the given frame rate.
type ClockFactory func(fps int) FrameClock

// RealtimeClock ticks on the wall clock at the frame rate. When the loop
// falls behind, ticks are dropped rather than queued, so each tick carries
// the true elapsed time.
type RealtimeClock struct {
	fps  int
	once sync.Once
	stop chan struct{}
}

// NewRealtimeClock implements ClockFactory.
func NewRealtimeClock(fps int) FrameClock {
	return &RealtimeClock{fps: fps, stop: make(chan struct{})}
}

func (c *RealtimeClock) Start(ctx context.Context) <-chan float64 {
	ticks := make(chan float64, 1)
	epoch := time.Now()
	ticks <- 0

	go func() {
		defer close(ticks)
		ticker := time.NewTicker(time.Second / time.Duration(c.fps))
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				select {
				case ticks <- now.Sub(epoch).Seconds():
				default:
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticks
}

func (c *RealtimeClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// VirtualClock advances exactly one frame per tick, as fast as the loop
// consumes ticks. Rendering is then independent of wall time.
type VirtualClock struct {
	fps  int
	once sync.Once
	stop chan struct{}
}

// NewVirtualClock implements ClockFactory.
func NewVirtualClock(fps int) FrameClock {
	return &VirtualClock{fps: fps, stop: make(chan struct{})}
}

func (c *VirtualClock) Start(ctx context.Context) <-chan float64 {
	ticks := make(chan float64)
	go func() {
		defer close(ticks)
		for k := 0; ; k++ {
			select {
			case ticks <- float64(k) / float64(c.fps):
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticks
}

func (c *VirtualClock) Stop() {
	c.once.Do(func() { close(c.stop) })
}
