package json

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/igolaizola/sigcopy/pkg/signal"
	"github.com/shopspring/decimal"
)

// Parser reads signals published as JSON objects by other bots.
type Parser struct{}

type jsonSignal struct {
	Action     string `json:"action"`
	Symbol     string `json:"symbol"`
	Entry      string `json:"entry"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
}

func (p Parser) Parse(text string) (*signal.Signal, error) {
	var js jsonSignal
	if err := json.Unmarshal([]byte(text), &js); err != nil {
		return nil, fmt.Errorf("json: couldn't parse signal: %v: %w", err, signal.ErrNoSignal)
	}
	action := signal.Action(strings.ToUpper(strings.TrimSpace(js.Action)))
	if action != signal.Buy && action != signal.Sell {
		return nil, fmt.Errorf("json: invalid action %q: %w", js.Action, signal.ErrNoSignal)
	}
	symbol := signal.NormalizeSymbol(js.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("json: missing symbol: %w", signal.ErrNoSignal)
	}
	s := &signal.Signal{
		Action: action,
		Symbol: symbol,
	}
	prices := []struct {
		name  string
		value string
		dst   *string
	}{
		{"entry", js.Entry, &s.Entry},
		{"stop loss", js.StopLoss, &s.StopLoss},
		{"take profit", js.TakeProfit, &s.TakeProfit},
	}
	for _, price := range prices {
		v := strings.TrimSpace(price.value)
		if v == "" {
			continue
		}
		// Validate the number but keep the text as published
		if _, err := decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("json: couldn't parse %s price (%s): %w", price.name, v, err)
		}
		*price.dst = v
	}
	return s, nil
}
