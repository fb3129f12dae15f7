package forward

import (
	"fmt"
	"html"
	"strings"

	"github.com/igolaizola/sigcopy/pkg/signal"
)

const notSpecified = "Not Specified"

// Post is a signal ready to be published: a headline with the symbol and a
// fixed width block with the trade levels.
type Post struct {
	Symbol string
	Block  string
}

func Format(s *signal.Signal) *Post {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Action:      %s\n", s.Action)
	fmt.Fprintf(sb, "Entry:       %s\n", orNotSpecified(s.Entry))
	fmt.Fprintf(sb, "Stop Loss:   %s\n", orNotSpecified(s.StopLoss))
	fmt.Fprintf(sb, "Take Profit: %s\n", orNotSpecified(s.TakeProfit))
	return &Post{
		Symbol: s.Symbol,
		Block:  sb.String(),
	}
}

func (p *Post) Title() string {
	return fmt.Sprintf("Forwarded Signal: %s", p.Symbol)
}

// Markdown renders the post with ** for bold and a ``` block.
func (p *Post) Markdown() string {
	return fmt.Sprintf("🔥 **%s** 🔥\n\n```\n%s```", p.Title(), p.Block)
}

// HTML renders the post for the bot api html parse mode.
func (p *Post) HTML() string {
	return fmt.Sprintf("🔥 <b>%s</b> 🔥\n\n<pre>%s</pre>", html.EscapeString(p.Title()), html.EscapeString(p.Block))
}

func orNotSpecified(v string) string {
	if v == "" {
		return notSpecified
	}
	return v
}
