package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/igolaizola/sigcopy"
	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func main() {
	// Create signal based context
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
			cancel()
		}
		signal.Stop(c)
	}()

	// Secrets can be provided in a .env file
	_ = godotenv.Load()

	// Launch command
	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("sigcopy", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "sigcopy [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newRunCommand(),
			newParseCommand(),
		},
	}
}

func newRunCommand() *ffcli.Command {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	apiID := fs.Int("api-id", 0, "telegram api id")
	apiHash := fs.String("api-hash", "", "telegram api hash")
	phone := fs.String("phone", "", "phone number of the telegram account, only needed to log in")
	password := fs.String("password", "", "two factor password of the telegram account (optional)")
	botToken := fs.String("bot-token", "", "telegram bot token, to log in as a bot or use the control chat")
	session := fs.String("session", "sigcopy.session.db", "session database path")
	transport := fs.String("transport", sigcopy.TransportMTProto, "transport to read and send messages (mtproto, bot)")
	sources := fs.String("source-channel-ids", "", "comma separated chat ids to read signals from")
	destination := fs.String("destination-channel-id", "", "chat id to forward signals to")
	controlChat := fs.Int64("control-chat", 0, "telegram chat id for logs and commands (optional)")
	parserName := fs.String("parser", "regex", "signal parser (regex, json, auto)")
	symbols := fs.String("symbols", "", "comma separated extra symbols accepted after the action")
	workers := fs.Int("workers", 4, "messages processed at the same time")
	metricsAddr := fs.String("metrics-addr", "", "address to serve prometheus metrics (optional)")
	logLevel := fs.String("log-level", "info", "log level")
	debug := fs.Bool("debug", false, "enable debug mode")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "sigcopy run [flags]",
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
			ff.WithEnvVarNoPrefix(),
		},
		ShortHelp: "forward signals from the source chats to the destination chat",
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			srcs, err := sigcopy.ParseIDs(*sources)
			if err != nil {
				return fmt.Errorf("invalid source channel ids: %w", err)
			}
			dst, err := sigcopy.ParseIDs(*destination)
			if err != nil {
				return fmt.Errorf("invalid destination channel id: %w", err)
			}
			if len(dst) != 1 {
				return fmt.Errorf("%w: only one destination channel id is supported", sigcopy.ErrConfig)
			}
			cfg := sigcopy.Config{
				APIID:       *apiID,
				APIHash:     *apiHash,
				Phone:       *phone,
				Password:    *password,
				BotToken:    *botToken,
				Session:     *session,
				Transport:   *transport,
				Sources:     srcs,
				Destination: dst[0],
				ControlChat: *controlChat,
				Parser:      *parserName,
				Symbols:     split(*symbols),
				Workers:     *workers,
				MetricsAddr: *metricsAddr,
				LogLevel:    *logLevel,
				Debug:       *debug,
			}
			c, err := sigcopy.New(cfg, prompt(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			return c.Run(ctx)
		},
	}
}

func newParseCommand() *ffcli.Command {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	parserName := fs.String("parser", "regex", "signal parser (regex, json, auto)")
	symbols := fs.String("symbols", "", "comma separated extra symbols accepted after the action")
	asJSON := fs.Bool("json", false, "print the extracted signal as json")

	return &ffcli.Command{
		Name:       "parse",
		ShortUsage: "sigcopy parse [flags] [text...]",
		ShortHelp:  "extract a signal from the given text or stdin",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("couldn't read stdin: %w", err)
				}
				text = string(b)
			}
			out := io.Writer(os.Stdout)
			if *asJSON {
				out = io.Discard
			}
			sig, err := sigcopy.Extract(out, *parserName, split(*symbols), text)
			if err != nil {
				return err
			}
			if *asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(sig)
			}
			return nil
		},
	}
}

// prompt reads the login code from the terminal.
func prompt(in io.Reader, out io.Writer) func(context.Context) (string, error) {
	reader := bufio.NewReader(in)
	return func(ctx context.Context) (string, error) {
		fmt.Fprint(out, "Enter the code sent by telegram: ")
		code, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("couldn't read code: %w", err)
		}
		return strings.TrimSpace(code), nil
	}
}

func split(s string) []string {
	var values []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
