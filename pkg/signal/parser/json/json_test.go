package json

import (
	"errors"
	"reflect"
	"testing"

	"github.com/igolaizola/sigcopy/pkg/signal"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    *signal.Signal
		wantErr bool
		noSig   bool
	}{
		{
			name: "valid signal",
			msg: `{
	"action": "BUY",
	"symbol": "EUR/USD",
	"entry": "1.0850",
	"stop_loss": "1.0800",
	"take_profit": "1.0950"
}`,
			want: &signal.Signal{
				Action:     signal.Buy,
				Symbol:     "EURUSD",
				Entry:      "1.0850",
				StopLoss:   "1.0800",
				TakeProfit: "1.0950",
			},
		},
		{
			name: "optional prices",
			msg:  `{"action": "sell", "symbol": "xauusd", "take_profit": " 1950.5 "}`,
			want: &signal.Signal{
				Action:     signal.Sell,
				Symbol:     "XAUUSD",
				TakeProfit: "1950.5",
			},
		},
		{
			name:    "invalid price",
			msg:     `{"action": "BUY", "symbol": "EURUSD", "entry": "soon"}`,
			wantErr: true,
		},
		{
			name:    "invalid action",
			msg:     `{"action": "HOLD", "symbol": "EURUSD"}`,
			wantErr: true,
			noSig:   true,
		},
		{
			name:    "missing symbol",
			msg:     `{"action": "BUY"}`,
			wantErr: true,
			noSig:   true,
		},
		{
			name:    "not json",
			msg:     "BUY EURUSD",
			wantErr: true,
			noSig:   true,
		},
	}

	parser := Parser{}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.Parse(tt.msg)
			if err != nil {
				if tt.wantErr {
					if tt.noSig != errors.Is(err, signal.ErrNoSignal) {
						t.Errorf("unexpected error kind: %v", err)
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
