// ABOUTME: Real-time pacing for producers
// ABOUTME: Releases one block per period against an absolute schedule
package source

import (
	"context"
	"time"
)

// maxLag is how many periods the schedule may fall behind before it resets
const maxLag = 10

type pacer struct {
	period time.Duration
	next   time.Time
}

func newPacer(blockSize, sampleRate int, enabled bool) *pacer {
	if !enabled || sampleRate <= 0 {
		return &pacer{}
	}
	return &pacer{
		period: time.Duration(blockSize) * time.Second / time.Duration(sampleRate),
	}
}

// wait blocks until the next block is due
func (p *pacer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.period <= 0 {
		return nil
	}

	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}

	if d := p.next.Sub(now); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if -d > maxLag*p.period {
		p.next = now
	}

	p.next = p.next.Add(p.period)
	return nil
}
