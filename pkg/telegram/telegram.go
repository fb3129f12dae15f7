package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/igolaizola/sigcopy/pkg/forward"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tb "gopkg.in/tucnak/telebot.v2"
)

// Bot uses the bot api to read source chats, send posts and report to an
// optional control chat.
type Bot struct {
	bot     *tb.Bot
	control *tb.Chat
	boot    time.Time
	log     zerolog.Logger
	mirror  *Mirror
	limiter *rate.Limiter

	lock    sync.Mutex
	sources map[int64]struct{}
	inbox   chan *forward.Message
}

var (
	_ forward.Listener = (*Bot)(nil)
	_ forward.Sender   = (*Bot)(nil)
)

func New(token string, controlChat int64, log zerolog.Logger) (*Bot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: couldn't create bot: %w", err)
	}
	bot := &Bot{
		bot:  b,
		boot: time.Now(),
		log:  log.With().Str("component", "telegram").Logger(),
		// Stay below the per chat limit of one message per second
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		mirror:  NewMirror(zerolog.WarnLevel, 100),
	}
	if controlChat != 0 {
		bot.control = &tb.Chat{ID: controlChat}
	}
	for _, endpoint := range []string{tb.OnText, tb.OnPhoto, tb.OnDocument, tb.OnVideo, tb.OnChannelPost} {
		b.Handle(endpoint, bot.dispatch)
	}
	return bot, nil
}

// Mirror returns the log writer that forwards entries to the control chat.
func (b *Bot) Mirror() *Mirror {
	return b.mirror
}

// HandleCommand registers a command of the control chat. The returned text is
// sent back to the control chat. Must be called before Run.
func (b *Bot) HandleCommand(command string, handler func(payload string) string) {
	b.bot.Handle(fmt.Sprintf("/%s", command), func(m *tb.Message) {
		if b.control == nil || m.Chat == nil || m.Chat.ID != b.control.ID {
			return
		}
		if m.Time().Before(b.boot) {
			return
		}
		if reply := handler(m.Payload); reply != "" {
			b.Print(reply)
		}
	})
}

// Subscribe delivers the texts and channel posts of sources received after
// the bot started. The bot must be a member of the source chats.
func (b *Bot) Subscribe(ctx context.Context, sources []int64) (<-chan *forward.Message, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.inbox != nil {
		return nil, errors.New("telegram: already subscribed")
	}
	b.sources = make(map[int64]struct{})
	for _, id := range sources {
		b.sources[id] = struct{}{}
	}
	b.inbox = make(chan *forward.Message, 100)
	inbox := b.inbox
	go func() {
		<-ctx.Done()
		b.lock.Lock()
		defer b.lock.Unlock()
		close(inbox)
		b.inbox = nil
	}()
	return inbox, nil
}

func (b *Bot) dispatch(m *tb.Message) {
	if m.Chat == nil || m.Time().Before(b.boot) {
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.inbox == nil {
		return
	}
	if !forward.Accepts(b.sources, m.Chat.ID) {
		return
	}
	// Media posts carry their text in the caption
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	select {
	case b.inbox <- &forward.Message{SourceID: m.Chat.ID, Text: text}:
	default:
		b.log.Warn().Int64("source", m.Chat.ID).Msg("inbox full, message dropped")
	}
}

func (b *Bot) Send(ctx context.Context, to int64, post *forward.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.bot.Send(&tb.Chat{ID: to}, post.HTML(), tb.ModeHTML); err != nil {
		return fmt.Errorf("telegram: couldn't send message to %d: %w", to, err)
	}
	return nil
}

// Run polls updates and delivers control chat messages until the context is
// done.
func (b *Bot) Run(ctx context.Context) error {
	go b.bot.Start()
	defer b.bot.Stop()
	if b.control == nil {
		<-ctx.Done()
		return nil
	}
	defer func() {
		if _, err := b.bot.Send(b.control, "🛑 bot stopping"); err != nil {
			b.log.Debug().Err(err).Msg("couldn't send stop message")
		}
	}()
	for {
		var msg string
		select {
		case <-ctx.Done():
			return nil
		case msg = <-b.mirror.messages:
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil
		}
		// Debug level so the failure isn't mirrored again
		if _, err := b.bot.Send(b.control, msg); err != nil {
			b.log.Debug().Err(err).Msg("couldn't send control message")
		}
	}
}

// Print queues a message for the control chat.
func (b *Bot) Print(v ...interface{}) {
	b.mirror.push(strings.TrimSpace(fmt.Sprintln(v...)))
}
