package timeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

// emaAlpha weights the newest interval in the measured frame rate.
const emaAlpha = 0.2

// Pacer spaces frames at 1/fps and tracks the achieved rate.
type Pacer struct {
	mu    sync.Mutex
	fps   float64
	debt  time.Duration
	ema   float64
	last  time.Time
	clock func() time.Time
}

func NewPacer(fps float64) *Pacer {
	p := &Pacer{fps: 25, clock: time.Now}
	p.SetFPS(fps)
	return p
}

func (p *Pacer) SetFPS(fps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fps > 0 {
		p.fps = fps
	}
}

func (p *Pacer) Target() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(float64(time.Second) / p.fps)
}

// Delay returns the pause after a frame whose work took elapsed. Time spent
// beyond the target is taken from the following pauses, never below zero.
func (p *Pacer) Delay(elapsed time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	sleep := time.Duration(float64(time.Second)/p.fps) - elapsed - p.debt
	if sleep < 0 {
		p.debt = -sleep
		return 0
	}
	p.debt = 0
	return sleep
}

// Mark records that a frame was shown and updates the measured rate.
func (p *Pacer) Mark() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if !p.last.IsZero() {
		if dt := now.Sub(p.last).Seconds(); dt > 0 {
			if p.ema == 0 {
				p.ema = 1 / dt
			} else {
				p.ema = emaAlpha/dt + (1-emaAlpha)*p.ema
			}
		}
	}
	p.last = now
}

// Measured returns the smoothed frame rate actually achieved.
func (p *Pacer) Measured() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ema
}

// Reset forgets the measured rate and accumulated lateness.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debt, p.ema, p.last = 0, 0, time.Time{}
}

// LoadFunc shows the frame at sortIndex.
type LoadFunc func(ctx context.Context, sortIndex int) error

// Play steps through the play range at the configured rate, calling load
// for every frame until ctx is cancelled or load fails.
func (x *Index) Play(ctx context.Context, pacer *Pacer, load LoadFunc) error {
	pacer.SetFPS(x.FPS())
	pacer.Reset()
	x.log.Debug("Playback started at %.2f fps", x.FPS())

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			return nil
		}
		start := pacer.clock()
		if err := load(ctx, x.Step()); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		pacer.Mark()

		timer.Reset(pacer.Delay(pacer.clock().Sub(start)))
		select {
		case <-ctx.Done():
			x.log.Debug("Playback stopped, measured %.2f fps", pacer.Measured())
			return nil
		case <-timer.C:
		}
	}
}
