package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/igolaizola/sigcopy/pkg/signal"
	"github.com/igolaizola/sigcopy/pkg/signal/parser/json"
)

var ErrNotFound = errors.New("parser: not found")

// Names lists the parsers accepted by NewParser.
var Names = []string{"regex", "json", "auto"}

func NewParser(name string, rules *signal.Rules) (signal.Parser, error) {
	switch name {
	case "", "regex":
		return signal.NewParser(rules), nil
	case "json":
		return json.Parser{}, nil
	case "auto":
		return auto{
			json:  json.Parser{},
			regex: signal.NewParser(rules),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
}

// auto decodes texts that look like JSON objects and falls back to the regex
// rules for everything else.
type auto struct {
	json  signal.Parser
	regex signal.Parser
}

func (a auto) Parse(text string) (*signal.Signal, error) {
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		if sig, err := a.json.Parse(text); err == nil {
			return sig, nil
		}
	}
	return a.regex.Parse(text)
}
