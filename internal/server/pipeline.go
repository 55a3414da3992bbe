// ABOUTME: Fan-out loop that broadcasts producer ticks to every registered client
// ABOUTME: Sends DATA per selected channel, periodic META stats, and ingests client control
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackstream/jackstream-go/internal/audio"
	"github.com/jackstream/jackstream-go/internal/frame"
	"github.com/jackstream/jackstream-go/internal/protocol"
	"github.com/jackstream/jackstream-go/internal/registry"
	"github.com/jackstream/jackstream-go/internal/stats"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultStatsInterval is the META emission period
	DefaultStatsInterval = time.Second

	// DefaultIngestWait bounds how long the loop waits for a tick before
	// servicing client control anyway
	DefaultIngestWait = 50 * time.Millisecond

	// controlReadSize matches the per-pass receive size of the control path
	controlReadSize = 1024

	// maxReadsPerPass keeps one chatty client from starving the loop
	maxReadsPerPass = 16
)

// PipelineConfig configures the fan-out loop
type PipelineConfig struct {
	Format        protocol.Format
	StatsInterval time.Duration
	IngestWait    time.Duration

	// Now is the clock used for META scheduling
	Now func() time.Time

	// OnStats is called from the loop goroutine after each META emission
	OnStats func(protocol.Stats)
}

// Counters is a snapshot of pipeline activity
type Counters struct {
	Ticks         uint64
	DataSent      uint64
	DataDropped   uint64
	MetaSent      uint64
	Corrupt       uint64
	WriteFailures uint64
	ReadFailures  uint64
}

// Pipeline owns the aggregator and every per-client decode buffer. Only Run's
// goroutine touches them.
type Pipeline struct {
	config   PipelineConfig
	queue    *Queue
	registry *registry.Registry
	agg      *stats.Aggregator

	lastMeta time.Time
	readBuf  []byte

	ticks         atomic.Uint64
	dataSent      atomic.Uint64
	dataDropped   atomic.Uint64
	metaSent      atomic.Uint64
	corrupt       atomic.Uint64
	writeFailures atomic.Uint64
	readFailures  atomic.Uint64

	latestMu sync.RWMutex
	latest   *protocol.Stats
}

// NewPipeline creates a fan-out loop reading from q and writing to reg's clients
func NewPipeline(config PipelineConfig, q *Queue, reg *registry.Registry) *Pipeline {
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultStatsInterval
	}
	if config.IngestWait <= 0 {
		config.IngestWait = DefaultIngestWait
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Pipeline{
		config:   config,
		queue:    q,
		registry: reg,
		agg:      stats.New(config.Format.ChannelCount),
		readBuf:  make([]byte, controlReadSize),
	}
}

// Run loops until the queue ends or ctx is cancelled, then closes every client
func (p *Pipeline) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"channels":   p.config.Format.ChannelCount,
		"samplerate": p.config.Format.SampleRate,
	}).Info("Fan-out loop starting")

	p.lastMeta = p.config.Now()
	for p.step(ctx) {
	}

	logrus.Info("Fan-out loop stopping, closing clients")
	p.registry.CloseAll()
	return nil
}

// step runs one iteration. It returns false once the queue has ended.
func (p *Pipeline) step(ctx context.Context) bool {
	tick, res := p.queue.Pop(ctx, p.config.IngestWait)
	switch res {
	case Ended:
		return false
	case Popped:
		p.broadcastData(tick)
		p.observe(tick)
	}

	if p.config.Now().Sub(p.lastMeta) >= p.config.StatsInterval {
		p.emitMeta()
	}

	p.ingestControl()
	return true
}

func (p *Pipeline) broadcastData(tick audio.Tick) {
	p.ticks.Add(1)

	p.registry.ForEach(func(c *registry.Client) {
		ch := c.Channel()
		if !ch.InRange(tick.Channels()) {
			return
		}
		p.send(c, frame.TagData, tick[ch])
	})
}

func (p *Pipeline) observe(tick audio.Tick) {
	if err := p.agg.Observe(tick); err != nil {
		logrus.WithError(err).Warn("Skipping tick in stats")
	}
}

func (p *Pipeline) emitMeta() {
	// The window restarts here whatever the writes below do.
	p.lastMeta = p.config.Now()

	rec := p.agg.Collect()
	msg := protocol.Stats{
		RMS:    protocol.Levels(rec.RMS),
		Clips:  rec.Clips,
		Format: p.config.Format,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal stats")
		return
	}

	p.registry.ForEach(func(c *registry.Client) {
		if p.send(c, frame.TagMeta, payload) {
			p.metaSent.Add(1)
		}
	})

	p.latestMu.Lock()
	p.latest = &msg
	p.latestMu.Unlock()

	logrus.WithField("stats", string(payload)).Debug("META emitted")

	if p.config.OnStats != nil {
		p.config.OnStats(msg)
	}
}

// send writes one frame to c, deregistering it on failure. It reports
// whether the frame was written.
func (p *Pipeline) send(c *registry.Client, tag frame.Tag, payload []byte) bool {
	err := c.Transport().Send(tag, payload)
	switch {
	case err == nil:
		if tag == frame.TagData {
			p.dataSent.Add(1)
		}
		return true
	case errors.Is(err, registry.ErrWouldBlock):
		if tag == frame.TagData {
			p.dataDropped.Add(1)
		}
		return false
	default:
		p.writeFailures.Add(1)
		logrus.WithFields(logrus.Fields{
			"client": c.ID,
			"addr":   c.Addr,
			"tag":    tag,
		}).WithError(err).Warn("Client write failed, dropping client")
		p.registry.Deregister(c.ID)
		return false
	}
}

func (p *Pipeline) ingestControl() {
	p.registry.ForEach(func(c *registry.Client) {
		if !p.receive(c) {
			return
		}
		p.decodeControl(c)
	})
}

// receive drains what the transport has buffered into the client's decoder.
// It returns false if the client was dropped.
func (p *Pipeline) receive(c *registry.Client) bool {
	for i := 0; i < maxReadsPerPass; i++ {
		n, err := c.Transport().Receive(p.readBuf)
		if n > 0 {
			c.Decoder().Feed(p.readBuf[:n])
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, registry.ErrWouldBlock):
			return true
		case errors.Is(err, io.EOF), errors.Is(err, registry.ErrClosed):
			logrus.WithField("client", c.ID).Info("Client closed connection")
		default:
			p.readFailures.Add(1)
			logrus.WithFields(logrus.Fields{
				"client": c.ID,
				"addr":   c.Addr,
			}).WithError(err).Warn("Client read failed, dropping client")
		}
		p.registry.Deregister(c.ID)
		return false
	}
	return true
}

func (p *Pipeline) decodeControl(c *registry.Client) {
	for {
		outcome, f := c.Decoder().Next()
		switch outcome {
		case frame.NeedMoreData:
			return
		case frame.CorruptPayload:
			p.corrupt.Add(1)
			logrus.WithField("client", c.ID).Warn("Dropping corrupt META from client")
		case frame.OK:
			if f.Tag == frame.TagMeta {
				p.applyControl(c, f.Payload)
			}
		}
	}
}

func (p *Pipeline) applyControl(c *registry.Client, payload []byte) {
	ctrl, err := protocol.ParseControl(payload)
	if err != nil {
		logrus.WithField("client", c.ID).WithError(err).Debug("Ignoring control message")
		return
	}
	if ctrl.ChannelSelect == nil {
		return
	}

	ch := protocol.ChannelFromWire(*ctrl.ChannelSelect)
	p.registry.SetChannel(c.ID, ch)

	fields := logrus.Fields{
		"client":  c.ID,
		"channel": ch.Wire(),
	}
	if !ch.InRange(p.config.Format.ChannelCount) {
		logrus.WithFields(fields).Warn("Client selected a channel that does not exist")
		return
	}
	logrus.WithFields(fields).Info("Client selected channel")
}

// Counters returns a snapshot of activity counters
func (p *Pipeline) Counters() Counters {
	return Counters{
		Ticks:         p.ticks.Load(),
		DataSent:      p.dataSent.Load(),
		DataDropped:   p.dataDropped.Load(),
		MetaSent:      p.metaSent.Load(),
		Corrupt:       p.corrupt.Load(),
		WriteFailures: p.writeFailures.Load(),
		ReadFailures:  p.readFailures.Load(),
	}
}

// LatestStats returns the last emitted stats, if any
func (p *Pipeline) LatestStats() (protocol.Stats, bool) {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	if p.latest == nil {
		return protocol.Stats{}, false
	}
	return *p.latest, true
}
