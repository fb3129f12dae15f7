package sigcopy

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/igolaizola/sigcopy/pkg/forward"
	"github.com/igolaizola/sigcopy/pkg/metrics"
	"github.com/igolaizola/sigcopy/pkg/mtproto"
	"github.com/igolaizola/sigcopy/pkg/session/bolt"
	"github.com/igolaizola/sigcopy/pkg/signal"
	"github.com/igolaizola/sigcopy/pkg/signal/parser"
	"github.com/igolaizola/sigcopy/pkg/telegram"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var version = "v261019a"

// Copier forwards the signals of the source chats to the destination chat.
type Copier struct {
	cfg      Config
	log      zerolog.Logger
	pipeline *forward.Pipeline
	listener forward.Listener
	bot      *telegram.Bot
	store    *bolt.Store
	start    time.Time
}

// New validates the config and creates the transport. Code is asked for the
// login code when the mtproto session doesn't exist yet.
func New(cfg Config, code func(context.Context) (string, error)) (*Copier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log := zerolog.New(console).Level(level).With().Timestamp().Logger()

	c := &Copier{cfg: cfg, start: time.Now()}

	var bot *telegram.Bot
	if cfg.BotToken != "" && (cfg.Transport == TransportBot || cfg.ControlChat != 0) {
		var err error
		bot, err = telegram.New(cfg.BotToken, cfg.ControlChat, log)
		if err != nil {
			return nil, fmt.Errorf("sigcopy: couldn't create telegram bot: %w", err)
		}
		c.bot = bot
		if cfg.ControlChat != 0 {
			// Warnings and errors are mirrored to the control chat
			log = zerolog.New(zerolog.MultiLevelWriter(console, bot.Mirror())).
				Level(level).With().Timestamp().Logger()
			bot.HandleCommand("status", func(string) string {
				return c.status()
			})
		}
	}
	c.log = log

	var sender forward.Sender
	switch cfg.Transport {
	case TransportBot:
		c.listener = bot
		sender = bot
	default:
		store, err := bolt.New(cfg.Session)
		if err != nil {
			return nil, fmt.Errorf("sigcopy: couldn't open session: %w", err)
		}
		client, err := mtproto.New(mtproto.Config{
			AppID:       cfg.APIID,
			AppHash:     cfg.APIHash,
			Phone:       cfg.Phone,
			Password:    cfg.Password,
			BotToken:    cfg.loginBotToken(),
			Destination: cfg.Destination,
			Storage:     store,
			Code:        code,
			Logger:      log,
			Debug:       cfg.Debug,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("sigcopy: couldn't create mtproto client: %w", err)
		}
		c.store = store
		c.listener = client
		sender = client
	}

	rules, err := signal.NewRules(cfg.Symbols...)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("sigcopy: couldn't create rules: %w", err)
	}
	p, err := parser.NewParser(cfg.Parser, rules)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("sigcopy: couldn't create parser: %w", err)
	}
	c.pipeline, err = forward.New(forward.Config{
		Parser:      p,
		Sender:      sender,
		Sources:     cfg.Sources,
		Destination: cfg.Destination,
		Workers:     cfg.Workers,
		Logger:      log,
	})
	if err != nil {
		c.close()
		return nil, fmt.Errorf("sigcopy: couldn't create pipeline: %w", err)
	}
	return c, nil
}

// Run listens for signals until the context is canceled or the transport
// disconnects.
func (c *Copier) Run(ctx context.Context) error {
	defer c.close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Info().Str("version", version).Str("transport", c.cfg.Transport).Msg("🤖 sigcopy running")
	defer c.log.Info().Msg("🛑 sigcopy stopped")

	g, ctx := errgroup.WithContext(ctx)
	if c.cfg.MetricsAddr != "" {
		errc := make(chan error, 1)
		srv, err := metrics.Serve(c.cfg.MetricsAddr, errc)
		if err != nil {
			return err
		}
		defer srv.Close()
		g.Go(func() error {
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				return nil
			}
		})
	}
	if c.bot != nil {
		g.Go(func() error {
			return c.bot.Run(ctx)
		})
	}
	g.Go(func() error {
		defer cancel()
		return c.pipeline.Run(ctx, c.listener)
	})
	return g.Wait()
}

func (c *Copier) status() string {
	stats := c.pipeline.Stats()
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "📊 up %s\n", time.Since(c.start).Round(time.Second))
	for _, o := range forward.Outcomes {
		fmt.Fprintf(sb, "%s: %d\n", o, stats[o])
	}
	return sb.String()
}

func (c *Copier) close() {
	if c.store == nil {
		return
	}
	if err := c.store.Close(); err != nil {
		c.log.Warn().Err(err).Msg("couldn't close session store")
	}
	c.store = nil
}

// Extract parses a single text with the configured rules. Used to try the
// rules without connecting to telegram.
func Extract(w io.Writer, name string, symbols []string, text string) (*signal.Signal, error) {
	rules, err := signal.NewRules(symbols...)
	if err != nil {
		return nil, err
	}
	p, err := parser.NewParser(name, rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	sig, err := p.Parse(text)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(w, forward.Format(sig).Markdown())
	return sig, nil
}
