// ABOUTME: Producer pump moving ticks from a producer into the hand-off queue
// ABOUTME: Ends the queue when the producer finishes or fails
package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackstream/jackstream-go/internal/source"
	"github.com/sirupsen/logrus"
)

// ErrProducerFailed wraps producer errors other than a clean end of stream
var ErrProducerFailed = errors.New("server: producer failed")

// Pump reads p until it ends, pushing every tick into q without blocking.
// The queue's end sentinel is always delivered on return.
func Pump(ctx context.Context, p source.Producer, q *Queue) error {
	defer q.End()

	format := p.Format()
	for {
		tick, err := p.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logrus.Info("Producer finished")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				logrus.WithError(err).Error("Producer terminated")
				return fmt.Errorf("%w: %w", ErrProducerFailed, err)
			}
		}

		if tick.Channels() != format.ChannelCount {
			logrus.WithFields(logrus.Fields{
				"got":  tick.Channels(),
				"want": format.ChannelCount,
			}).Warn("Dropping tick with wrong channel count")
			continue
		}

		if !q.Push(tick) {
			dropped := q.Dropped()
			if dropped == 1 || dropped%100 == 0 {
				logrus.WithField("dropped", dropped).Warn("Hand-off queue full, dropping ticks")
			}
		}
	}
}
