package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/igolaizola/sigcopy/pkg/forward"
	"github.com/rs/zerolog"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("mtproto: not connected")

type Config struct {
	AppID   int
	AppHash string
	// Phone and Password are used to log in as a user. BotToken is used
	// instead when set.
	Phone    string
	Password string
	BotToken string
	// Destination is where posts are sent. Outgoing messages are read from
	// every source except this one, so forwarded posts aren't read back.
	Destination int64
	Storage     session.Storage
	// Code asks for the login code sent by telegram.
	Code   func(ctx context.Context) (string, error)
	Logger zerolog.Logger
	Debug  bool
}

// Client listens to new messages and sends posts using a single telegram
// session.
type Client struct {
	cfg   Config
	log   zerolog.Logger
	zap   *zap.Logger
	peers *peers

	lock   sync.RWMutex
	api    *tg.Client
	sender *message.Sender
}

var (
	_ forward.Listener = (*Client)(nil)
	_ forward.Sender   = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	logger := zap.NewNop()
	if cfg.Debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("mtproto: couldn't create logger: %w", err)
		}
	}
	if cfg.Storage == nil {
		cfg.Storage = &session.StorageMemory{}
	}
	return &Client{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "mtproto").Logger(),
		zap:   logger,
		peers: newPeers(),
	}, nil
}

// Subscribe connects and logs in, then returns the channel where new messages
// from sources are delivered. The client reconnects with backoff until the
// context is done or the session can't be recovered, then the channel is
// closed.
func (c *Client) Subscribe(ctx context.Context, sources []int64) (<-chan *forward.Message, error) {
	accepted := make(map[int64]struct{})
	for _, id := range sources {
		accepted[id] = struct{}{}
	}
	in := &inbox{c: make(chan *forward.Message, 100)}
	ready := make(chan struct{})
	var once sync.Once
	errc := make(chan error, 1)

	go func() {
		defer in.close()
		err := c.run(ctx, accepted, in, func() { once.Do(func() { close(ready) }) })
		if err != nil {
			c.log.Error().Err(err).Msg("mtproto client stopped")
		}
		errc <- err
	}()

	select {
	case <-ready:
		return in.c, nil
	case err := <-errc:
		if err == nil {
			err = ErrNotConnected
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) run(ctx context.Context, accepted map[int64]struct{}, in *inbox, ready func()) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Minute
	for {
		connected, err := c.session(ctx, accepted, in, ready)
		if ctx.Err() != nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if connected {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("mtproto: couldn't reconnect: %w", err)
		}
		c.log.Warn().Err(err).Dur("retry", wait).Msg("mtproto client disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) session(ctx context.Context, accepted map[int64]struct{}, in *inbox, ready func()) (bool, error) {
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, telegram.Options{
		SessionStorage: c.cfg.Storage,
		UpdateHandler:  dispatcher,
		Logger:         c.zap,
	})

	handle := func(ctx context.Context, e tg.Entities, msg tg.MessageClass) error {
		c.peers.addEntities(e)
		if m, ok := c.inbound(msg, accepted); ok {
			in.push(ctx, m)
		}
		return nil
	}
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return handle(ctx, e, u.Message)
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return handle(ctx, e, u.Message)
	})

	var connected bool
	err := client.Run(ctx, func(ctx context.Context) error {
		if err := c.auth(ctx, client); err != nil {
			return backoff.Permanent(err)
		}
		api := client.API()
		if c.cfg.BotToken == "" {
			if err := c.peers.warm(ctx, api); err != nil {
				c.log.Warn().Err(err).Msg("couldn't load dialogs")
			}
		}
		// Telegram only pushes updates after the state has been requested
		if _, err := api.UpdatesGetState(ctx); err != nil {
			return fmt.Errorf("mtproto: couldn't get updates state: %w", err)
		}

		c.lock.Lock()
		c.api = api
		c.sender = message.NewSender(api)
		c.lock.Unlock()
		defer func() {
			c.lock.Lock()
			c.api = nil
			c.sender = nil
			c.lock.Unlock()
		}()

		connected = true
		ready()
		c.log.Info().Msg("listening for mtproto messages")
		<-ctx.Done()
		return nil
	})
	return connected, err
}

// inbound converts a new message from one of the accepted sources.
func (c *Client) inbound(msg tg.MessageClass, accepted map[int64]struct{}) (*forward.Message, bool) {
	m, ok := msg.(*tg.Message)
	if !ok {
		return nil, false
	}
	id, err := markedID(m.PeerID)
	if err != nil {
		c.log.Debug().Err(err).Msg("skipping message")
		return nil, false
	}
	if !forward.Accepts(accepted, id) {
		return nil, false
	}
	if m.Out && c.cfg.Destination != 0 &&
		forward.Accepts(map[int64]struct{}{c.cfg.Destination: {}}, id) {
		return nil, false
	}
	return &forward.Message{SourceID: id, Text: m.Message}, true
}

func (c *Client) auth(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("mtproto: couldn't get auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if c.cfg.BotToken != "" {
		if _, err := client.Auth().Bot(ctx, c.cfg.BotToken); err != nil {
			return fmt.Errorf("mtproto: couldn't log in as bot: %w", err)
		}
		return nil
	}
	if c.cfg.Phone == "" {
		return errors.New("mtproto: missing phone number to log in")
	}
	if c.cfg.Code == nil {
		return errors.New("mtproto: missing login code prompt")
	}

	codePrompt := func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		code, err := c.cfg.Code(ctx)
		return strings.TrimSpace(code), err
	}
	var user auth.UserAuthenticator = auth.CodeOnly(c.cfg.Phone, auth.CodeAuthenticatorFunc(codePrompt))
	if c.cfg.Password != "" {
		user = auth.Constant(c.cfg.Phone, c.cfg.Password, auth.CodeAuthenticatorFunc(codePrompt))
	}
	flow := auth.NewFlow(user, auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("mtproto: couldn't log in: %w", err)
	}
	return nil
}

// Send publishes the post to the given chat with bold title and a
// preformatted block.
func (c *Client) Send(ctx context.Context, to int64, post *forward.Post) error {
	c.lock.RLock()
	api, sender := c.api, c.sender
	c.lock.RUnlock()
	if sender == nil {
		return ErrNotConnected
	}
	peer, err := c.peers.resolve(ctx, api, to)
	if err != nil {
		return err
	}
	if _, err := sender.To(peer).StyledText(ctx,
		styling.Plain("🔥 "),
		styling.Bold(post.Title()),
		styling.Plain(" 🔥\n\n"),
		styling.Pre(post.Block, ""),
	); err != nil {
		return fmt.Errorf("mtproto: couldn't send message to %d: %w", to, err)
	}
	return nil
}

// inbox guards the messages channel so late updates aren't delivered after
// it has been closed.
type inbox struct {
	lock   sync.Mutex
	closed bool
	c      chan *forward.Message
}

func (i *inbox) push(ctx context.Context, m *forward.Message) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if i.closed {
		return
	}
	select {
	case i.c <- m:
	case <-ctx.Done():
	}
}

func (i *inbox) close() {
	i.lock.Lock()
	defer i.lock.Unlock()
	if !i.closed {
		i.closed = true
		close(i.c)
	}
}
