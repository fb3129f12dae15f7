package signal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoSignal is returned when a text doesn't contain an action and a symbol.
var ErrNoSignal = errors.New("signal: no signal found")

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Signal is a trade directive extracted from a message.
// Entry, StopLoss and TakeProfit are kept as the literal text found in the
// message and are empty when not present.
type Signal struct {
	Action     Action `json:"action"`
	Symbol     string `json:"symbol"`
	Entry      string `json:"entry,omitempty"`
	StopLoss   string `json:"stop_loss,omitempty"`
	TakeProfit string `json:"take_profit,omitempty"`
}

type Parser interface {
	Parse(text string) (*Signal, error)
}

// DefaultSymbols returns the bare symbol literals accepted after an action.
func DefaultSymbols() []string {
	return []string{"XAUUSD", "XAU/USD", "GBPUSD", "EURUSD"}
}

// space also matches unicode spaces such as the no-break space telegram
// clients insert.
const space = `[\s\p{Zs}]`

// Rules holds the compiled patterns. It is never modified after NewRules
// returns, so a single value can be shared by concurrent parsers.
type Rules struct {
	action     *regexp.Regexp
	entry      *regexp.Regexp
	takeProfit *regexp.Regexp
	stopLoss   *regexp.Regexp
}

// NewRules compiles the pattern rules. Extra symbols are matched literally in
// addition to DefaultSymbols.
func NewRules(symbols ...string) (*Rules, error) {
	var alts []string
	seen := map[string]bool{}
	for _, s := range append(DefaultSymbols(), symbols...) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		alts = append(alts, regexp.QuoteMeta(s))
	}
	action := `(?i)(BUY|SELL)` + space + `*([A-Z]{3,6}/[A-Z]{3,6}|` + strings.Join(alts, "|") + `)`

	var r Rules
	for _, c := range []struct {
		dst  **regexp.Regexp
		expr string
	}{
		{&r.action, action},
		{&r.entry, `(?i)(Entry|Enter|En)` + space + `*[:\s\p{Zs}]*([\d.]+)`},
		{&r.takeProfit, `(?i)(TP|Take` + space + `*Profit)` + space + `*[:\s\p{Zs}]*([\d.]+)`},
		{&r.stopLoss, `(?i)(SL|Stop` + space + `*Loss)` + space + `*[:\s\p{Zs}]*([\d.]+)`},
	} {
		re, err := regexp.Compile(c.expr)
		if err != nil {
			return nil, fmt.Errorf("signal: couldn't create regex: %w", err)
		}
		*c.dst = re
	}
	return &r, nil
}

// NormalizeSymbol uppercases a symbol and removes its separator, so EUR/USD
// and eurusd become EURUSD.
func NormalizeSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "/", "")
}

type parser struct {
	rules *Rules
}

func NewParser(rules *Rules) Parser {
	return &parser{rules: rules}
}

func (p *parser) Parse(text string) (*Signal, error) {
	matches := p.rules.action.FindStringSubmatch(text)
	if len(matches) < 3 {
		return nil, ErrNoSignal
	}
	sig := &Signal{
		Action: Action(strings.ToUpper(matches[1])),
		Symbol: NormalizeSymbol(matches[2]),
	}

	// Each label is searched in the whole text, first occurrence wins
	sig.Entry = find(p.rules.entry, text)
	sig.TakeProfit = find(p.rules.takeProfit, text)
	sig.StopLoss = find(p.rules.stopLoss, text)
	return sig, nil
}

func find(re *regexp.Regexp, text string) string {
	matches := re.FindStringSubmatch(text)
	if len(matches) < 3 {
		return ""
	}
	return matches[2]
}
