package telegram

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	tb "gopkg.in/tucnak/telebot.v2"
)

func TestSubscribe(t *testing.T) {
	b := &Bot{
		boot:   time.Now().Add(-time.Minute),
		log:    zerolog.Nop(),
		mirror: NewMirror(zerolog.WarnLevel, 10),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Messages before subscribing are dropped
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1001234567890}, Text: "early", Unixtime: time.Now().Unix()})

	msgs, err := b.Subscribe(ctx, []int64{-1001234567890, 1234})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe(ctx, nil); err == nil {
		t.Error("want error subscribing twice")
	}

	now := time.Now().Unix()
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1001234567890}, Text: "BUY EURUSD", Unixtime: now})
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1009999999999}, Text: "foreign", Unixtime: now})
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1234}, Text: "plain id", Unixtime: now})
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: 1234567890}, Text: "user", Unixtime: now})
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1001234567890}, Caption: "SELL XAUUSD TP 2050", Photo: &tb.Photo{}, Unixtime: now})
	b.dispatch(&tb.Message{Chat: &tb.Chat{ID: -1001234567890}, Text: "old", Unixtime: now - 3600})
	b.dispatch(&tb.Message{Text: "no chat", Unixtime: now})
	cancel()

	var got []string
	for m := range msgs {
		got = append(got, m.Text)
	}
	want := []string{"BUY EURUSD", "plain id", "SELL XAUUSD TP 2050"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got: %v, want: %v", got, want)
	}
}

func TestMirror(t *testing.T) {
	m := NewMirror(zerolog.WarnLevel, 2)
	log := zerolog.New(m)

	log.Info().Msg("not mirrored")
	log.Warn().Str("symbol", "EURUSD").Msg("couldn't forward signal")
	log.Error().Msg("second")
	log.Error().Msg("dropped")

	if len(m.messages) != 2 {
		t.Fatalf("want 2 queued messages, got %d", len(m.messages))
	}
	first := <-m.messages
	if !strings.Contains(first, "couldn't forward signal") || !strings.Contains(first, "symbol=EURUSD") {
		t.Errorf("unexpected message: %s", first)
	}
	if second := <-m.messages; !strings.Contains(second, "second") {
		t.Errorf("unexpected message: %s", second)
	}
}
