package replay

import (
	"context"
	"time"
)

// Pacer spaces out recorded items so they are re-emitted with the gaps they
// were recorded with, scaled by Speed.
type Pacer struct {
	// Speed scales playback: 2 plays twice as fast, 0 or less plays without pauses.
	Speed float64
	// DropUntil skips items recorded before it. Zero keeps everything.
	DropUntil time.Time

	last    time.Time
	emitted int
	dropped int
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer with the given speed factor.
func NewPacer(speed float64) *Pacer {
	return &Pacer{Speed: speed, sleep: sleepCtx}
}

// Pace blocks until the item stamped ts is due and reports whether it should
// be emitted at all. Items without a timestamp are emitted immediately.
func (p *Pacer) Pace(ctx context.Context, ts time.Time) (bool, error) {
	if !p.DropUntil.IsZero() && !ts.IsZero() && ts.Before(p.DropUntil) {
		p.dropped++
		return false, nil
	}

	if !p.last.IsZero() && !ts.IsZero() && p.Speed > 0 {
		gap := ts.Sub(p.last)
		if gap > 0 {
			if err := p.sleep(ctx, time.Duration(float64(gap)/p.Speed)); err != nil {
				return false, err
			}
		}
	}

	if !ts.IsZero() {
		p.last = ts
	}
	p.emitted++
	return true, ctx.Err()
}

// Counts returns how many items were emitted and dropped.
func (p *Pacer) Counts() (emitted, dropped int) {
	return p.emitted, p.dropped
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
