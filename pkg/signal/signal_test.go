package signal

import (
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    *Signal
		wantErr bool
	}{
		{
			name: "buy plain symbol",
			msg:  "BUY EURUSD",
			want: &Signal{Action: Buy, Symbol: "EURUSD"},
		},
		{
			name: "sell slashed symbol",
			msg:  "SELL EUR/USD",
			want: &Signal{Action: Sell, Symbol: "EURUSD"},
		},
		{
			name: "lowercase",
			msg:  "sell eur/usd now",
			want: &Signal{Action: Sell, Symbol: "EURUSD"},
		},
		{
			name: "take profit only",
			msg:  "BUY XAUUSD TP: 1950.5",
			want: &Signal{Action: Buy, Symbol: "XAUUSD", TakeProfit: "1950.5"},
		},
		{
			name: "entry and stop loss",
			msg:  "SELL GBPUSD Entry 1.25 SL 1.30",
			want: &Signal{Action: Sell, Symbol: "GBPUSD", Entry: "1.25", StopLoss: "1.30"},
		},
		{
			name: "full signal",
			msg: `🚨 BUY GBPUSD
Entry: 1.2650
SL 1.2600
TP 1.2750`,
			want: &Signal{Action: Buy, Symbol: "GBPUSD", Entry: "1.2650", StopLoss: "1.2600", TakeProfit: "1.2750"},
		},
		{
			name: "long labels",
			msg:  "Buy XAU/USD enter 2010 take profit: 2030 stop loss: 1995",
			want: &Signal{Action: Buy, Symbol: "XAUUSD", Entry: "2010", StopLoss: "1995", TakeProfit: "2030"},
		},
		{
			name: "no-break space after action",
			msg:  "BUY\u00a0EURUSD",
			want: &Signal{Action: Buy, Symbol: "EURUSD"},
		},
		{
			name: "no-break space after labels",
			msg:  "BUY EURUSD Entry:\u00a01.25 Take\u00a0Profit\u2009 1.30 SL\u00a01.20",
			want: &Signal{Action: Buy, Symbol: "EURUSD", Entry: "1.25", StopLoss: "1.20", TakeProfit: "1.30"},
		},
		{
			name: "first action wins",
			msg:  "SELL GBP/JPY then BUY EURUSD",
			want: &Signal{Action: Sell, Symbol: "GBPJPY"},
		},
		{
			name: "first label wins",
			msg:  "BUY EURUSD TP 1.1000 TP 1.2000",
			want: &Signal{Action: Buy, Symbol: "EURUSD", TakeProfit: "1.1000"},
		},
		{
			name: "no space between action and symbol",
			msg:  "BUYEURUSD",
			want: &Signal{Action: Buy, Symbol: "EURUSD"},
		},
		{
			name:    "greeting",
			msg:     "good morning traders",
			wantErr: true,
		},
		{
			name:    "action without symbol",
			msg:     "BUY now! Entry 1.25",
			wantErr: true,
		},
		{
			name:    "unknown bare symbol",
			msg:     "BUY USDJPY",
			wantErr: true,
		},
		{
			name:    "empty",
			msg:     "",
			wantErr: true,
		},
	}

	rules, err := NewRules()
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.Parse(tt.msg)
			if err != nil {
				if tt.wantErr {
					if !errors.Is(err, ErrNoSignal) {
						t.Errorf("want ErrNoSignal, got %v", err)
					}
					return
				}
				t.Fatal(err)
			}
			if tt.wantErr {
				t.Fatalf("want error, got %+v", got)
			}
			if !reflect.DeepEqual(*got, *tt.want) {
				t.Errorf("got: %+v, want: %+v", got, tt.want)
			}
		})
	}
}

func TestEntrySynonyms(t *testing.T) {
	rules, err := NewRules()
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)
	for _, label := range []string{"Enter: 100", "Entry 100", "En:100"} {
		sig, err := parser.Parse("BUY EURUSD " + label)
		if err != nil {
			t.Fatal(err)
		}
		if sig.Entry != "100" {
			t.Errorf("%q: want entry 100, got %q", label, sig.Entry)
		}
	}
}

func TestNormalization(t *testing.T) {
	rules, err := NewRules()
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)
	a, err := parser.Parse("BUY EUR/USD")
	if err != nil {
		t.Fatal(err)
	}
	b, err := parser.Parse("BUY EURUSD")
	if err != nil {
		t.Fatal(err)
	}
	if a.Symbol != "EURUSD" || a.Symbol != b.Symbol {
		t.Errorf("symbols differ: %s %s", a.Symbol, b.Symbol)
	}
}

func TestIdempotent(t *testing.T) {
	rules, err := NewRules()
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)
	msg := "SELL GBPUSD Entry 1.25 SL 1.30 TP 1.20"
	a, err := parser.Parse(msg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := parser.Parse(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("expected a fresh signal on each call")
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("got: %+v, want: %+v", b, a)
	}
}

// Labels are matched anywhere in the text, which leaks unrelated numbers into
// the signal. These cases pin that behavior.
func TestLabelCrossTalk(t *testing.T) {
	rules, err := NewRules()
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)

	sig, err := parser.Parse("BUY EURUSD TP1: 1.2000 TP2: 1.2100")
	if err != nil {
		t.Fatal(err)
	}
	if sig.TakeProfit != "1" {
		t.Errorf("want take profit 1, got %q", sig.TakeProfit)
	}

	sig, err = parser.Parse("SELL EURUSD, support broken 1.0800, SL 1.0900")
	if err != nil {
		t.Fatal(err)
	}
	if sig.Entry != "1.0800" {
		t.Errorf("want entry 1.0800, got %q", sig.Entry)
	}
	if sig.StopLoss != "1.0900" {
		t.Errorf("want stop loss 1.0900, got %q", sig.StopLoss)
	}

	sig, err = parser.Parse("Yesterday TP 1.3000 hit. Today: BUY GBPUSD")
	if err != nil {
		t.Fatal(err)
	}
	if sig.TakeProfit != "1.3000" {
		t.Errorf("want take profit 1.3000, got %q", sig.TakeProfit)
	}
}

func TestExtraSymbols(t *testing.T) {
	rules, err := NewRules("usdjpy", " BTC-USD ")
	if err != nil {
		t.Fatal(err)
	}
	parser := NewParser(rules)
	for msg, want := range map[string]string{
		"BUY USDJPY":   "USDJPY",
		"SELL BTC-USD": "BTC-USD",
		"SELL XAUUSD":  "XAUUSD",
	} {
		sig, err := parser.Parse(msg)
		if err != nil {
			t.Fatalf("%s: %v", msg, err)
		}
		if sig.Symbol != want {
			t.Errorf("%s: want %s, got %s", msg, want, sig.Symbol)
		}
	}
}

func TestDefaultSymbolsCopy(t *testing.T) {
	symbols := DefaultSymbols()
	symbols[0] = "BTCUSD"
	if got := DefaultSymbols()[0]; got != "XAUUSD" {
		t.Errorf("default symbols modified: %s", got)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	for in, want := range map[string]string{
		"eur/usd":  "EURUSD",
		" XAUUSD ": "XAUUSD",
		"gbp/jpy":  "GBPJPY",
	} {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("%q: want %s, got %s", in, want, got)
		}
	}
}
