package sigcopy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/igolaizola/sigcopy/pkg/signal/parser"
	"github.com/rs/zerolog"
)

// ErrConfig is wrapped by every configuration error.
var ErrConfig = errors.New("sigcopy: invalid config")

const (
	TransportMTProto = "mtproto"
	TransportBot     = "bot"
)

type Config struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string
	BotToken string
	// Session is the path of the database that keeps the mtproto login.
	Session   string
	Transport string

	Sources     []int64
	Destination int64
	ControlChat int64

	Parser  string
	Symbols []string
	Workers int

	MetricsAddr string
	LogLevel    string
	Debug       bool
}

// ParseIDs parses a comma separated list of chat ids.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid chat id %q", ErrConfig, v)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: missing chat ids", ErrConfig)
	}
	return ids, nil
}

func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrConfig}, args...)...))
	}
	switch c.Transport {
	case TransportMTProto:
		if c.APIID == 0 {
			add("missing api id")
		}
		if c.APIHash == "" {
			add("missing api hash")
		}
		if c.Session == "" {
			add("missing session path")
		}
	case TransportBot:
		if c.BotToken == "" {
			add("missing bot token")
		}
	default:
		add("unknown transport %q", c.Transport)
	}
	if len(c.Sources) == 0 {
		add("missing source channel ids")
	}
	if c.Destination == 0 {
		add("missing destination channel id")
	}
	if c.ControlChat != 0 && c.BotToken == "" {
		add("control chat requires a bot token")
	}
	if c.Workers < 1 {
		add("workers must be positive: %d", c.Workers)
	}
	if !contains(parser.Names, c.Parser) {
		add("unknown parser %q", c.Parser)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		add("invalid log level %q", c.LogLevel)
	}
	return errors.Join(errs...)
}

// loginBotToken returns the token the mtproto transport logs in with. A phone
// number takes precedence, leaving the bot token for the control chat.
func (c *Config) loginBotToken() string {
	if c.Phone != "" {
		return ""
	}
	return c.BotToken
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
