// Package forward drains inbound chat messages, extracts trade signals and
// publishes each one to a destination chat.
package forward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/igolaizola/sigcopy/pkg/metrics"
	"github.com/igolaizola/sigcopy/pkg/signal"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDisconnected = errors.New("forward: listener disconnected")
	ErrRunning      = errors.New("forward: pipeline already running")
)

type Message struct {
	SourceID int64
	Text     string
}

// Listener delivers new messages from the given sources until the transport
// goes away, then closes the channel. Subscribe returns once connected.
type Listener interface {
	Subscribe(ctx context.Context, sources []int64) (<-chan *Message, error)
}

type Sender interface {
	Send(ctx context.Context, to int64, post *Post) error
}

type Outcome string

const (
	Ignored   Outcome = "ignored"
	Empty     Outcome = "empty"
	NoSignal  Outcome = "no_signal"
	Forwarded Outcome = "forwarded"
	Failed    Outcome = "failed"
)

var Outcomes = []Outcome{Ignored, Empty, NoSignal, Forwarded, Failed}

type Config struct {
	Parser      signal.Parser
	Sender      Sender
	Sources     []int64
	Destination int64
	// Workers bounds the messages handled at the same time. Use 1 when the
	// sender can't be called concurrently.
	Workers int
	Logger  zerolog.Logger
}

type Pipeline struct {
	parser      signal.Parser
	sender      Sender
	sources     []int64
	accepted    map[int64]struct{}
	destination int64
	workers     int
	log         zerolog.Logger
	running     atomic.Bool
	stats       map[Outcome]*atomic.Uint64
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Parser == nil {
		return nil, errors.New("forward: missing parser")
	}
	if cfg.Sender == nil {
		return nil, errors.New("forward: missing sender")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("forward: missing sources")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	accepted := make(map[int64]struct{})
	for _, id := range cfg.Sources {
		accepted[id] = struct{}{}
	}
	stats := make(map[Outcome]*atomic.Uint64)
	for _, o := range Outcomes {
		stats[o] = &atomic.Uint64{}
	}
	return &Pipeline{
		parser:      cfg.Parser,
		sender:      cfg.Sender,
		sources:     cfg.Sources,
		accepted:    accepted,
		destination: cfg.Destination,
		workers:     workers,
		log:         cfg.Logger.With().Str("component", "forward").Logger(),
		stats:       stats,
	}, nil
}

// Run subscribes to the listener and handles messages until the context is
// done or the listener disconnects. In-flight messages are finished before
// returning.
func (p *Pipeline) Run(ctx context.Context, l Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	msgs, err := l.Subscribe(ctx, p.sources)
	if err != nil {
		return fmt.Errorf("forward: couldn't subscribe: %w", err)
	}
	p.log.Info().Ints64("sources", p.sources).Int64("destination", p.destination).Msg("listening for new messages")

	var g errgroup.Group
	g.SetLimit(p.workers)
	defer func() { _ = g.Wait() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDisconnected
			}
			g.Go(func() error {
				p.Handle(ctx, m)
				return nil
			})
		}
	}
}

// Handle processes a single message. At most one send is attempted and send
// errors are only logged.
func (p *Pipeline) Handle(ctx context.Context, m *Message) Outcome {
	outcome := p.handle(ctx, m)
	p.stats[outcome].Add(1)
	metrics.Messages.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (p *Pipeline) handle(ctx context.Context, m *Message) Outcome {
	if m == nil || !p.accepts(m.SourceID) {
		return Ignored
	}
	log := p.log.With().Int64("source", m.SourceID).Logger()
	log.Debug().Msg("new message received")

	if strings.TrimSpace(m.Text) == "" {
		log.Debug().Msg("message has no text, skipping")
		return Empty
	}

	sig, err := p.parser.Parse(m.Text)
	if errors.Is(err, signal.ErrNoSignal) {
		log.Debug().Msg("no signal found")
		return NoSignal
	}
	if err != nil {
		log.Warn().Err(err).Msg("couldn't parse message")
		return NoSignal
	}
	log = log.With().Str("action", string(sig.Action)).Str("symbol", sig.Symbol).Logger()
	log.Info().
		Str("entry", sig.Entry).
		Str("stop_loss", sig.StopLoss).
		Str("take_profit", sig.TakeProfit).
		Msg("trade signal detected")

	start := time.Now()
	err = p.sender.Send(ctx, p.destination, Format(sig))
	metrics.SendSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Int64("destination", p.destination).Msg("couldn't forward signal")
		return Failed
	}
	log.Info().Int64("destination", p.destination).Msg("signal forwarded")
	return Forwarded
}

func (p *Pipeline) accepts(id int64) bool {
	return Accepts(p.accepted, id)
}

// Accepts reports whether a message from id comes from one of the sources.
// Marked ids also match a source configured by its plain id. Positive ids
// are users and only match exactly, as their range overlaps plain channel ids.
func Accepts(sources map[int64]struct{}, id int64) bool {
	if _, ok := sources[id]; ok {
		return true
	}
	if id >= 0 {
		return false
	}
	_, ok := sources[PlainID(id)]
	return ok
}

func (p *Pipeline) Stats() map[Outcome]uint64 {
	stats := make(map[Outcome]uint64, len(p.stats))
	for o, c := range p.stats {
		stats[o] = c.Load()
	}
	return stats
}

const channelOffset = 1000000000000

// PlainID strips the bot api marks from a chat id: -100<id> for channels and
// -<id> for basic groups.
func PlainID(id int64) int64 {
	switch {
	case id <= -channelOffset:
		return -id - channelOffset
	case id < 0:
		return -id
	default:
		return id
	}
}

// ChannelID returns the marked id of a channel.
func ChannelID(id int64) int64 {
	return -channelOffset - id
}

// ChatID returns the marked id of a basic group.
func ChatID(id int64) int64 {
	return -id
}
