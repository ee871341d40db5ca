// Command steamguard generates Steam Guard codes and answers mobile trade
// confirmations for one account.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/k64z/steamguard/config"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const envConfig = "STEAMGUARD_CONFIG"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath      string
	accountName     string
	steamID         string
	maFile          string
	listingFormat   string
	logLevel        string
	proxy           string
	timeout         time.Duration
	requestInterval time.Duration
	legacy          bool
}

func newFlagSet(f *flags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("steamguard", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&f.configPath, "config", "c", os.Getenv(envConfig), "YAML config file (env "+envConfig+")")
	flagSet.StringVar(&f.accountName, "account", "", "account name to log in with")
	flagSet.StringVar(&f.steamID, "steam-id", "", "SteamID of the account")
	flagSet.StringVar(&f.maFile, "mafile", "", "maFile to read secrets from")
	flagSet.StringVar(&f.listingFormat, "listing-format", "", "confirmation listing to fetch: json or html")
	flagSet.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.StringVar(&f.proxy, "proxy", "", "proxy URL for every request")
	flagSet.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "per-request timeout")
	flagSet.DurationVar(&f.requestInterval, "request-interval", config.DefaultRequestInterval, "minimum spacing between requests")
	flagSet.BoolVar(&f.legacy, "legacy", false, "log in through the old dologin form")
	flagSet.BoolP("help", "h", false, "show help")
	return flagSet
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var f flags
	flagSet := newFlagSet(&f)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stdout, flagSet)
		return errors.New("no command given")
	}
	command, rest := rest[0], rest[1:]
	if err := checkArgs(command, rest); err != nil {
		return err
	}

	cfg, err := loadConfig(flagSet, &f, os.Getenv)
	if err != nil {
		return err
	}
	if err := cfg.Validate(command); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	level, _ := cfg.Level()
	logger := newLogger(os.Stderr, level)

	a, err := newApp(cfg, f.configPath, f.legacy, logger, stdout)
	if err != nil {
		return err
	}

	switch command {
	case "code":
		return a.code(ctx)
	case "list":
		return a.list(ctx)
	case "accept":
		return a.accept(ctx, rest)
	case "cancel":
		return a.cancel(ctx, rest[0])
	default:
		return a.loginCommand(ctx)
	}
}

func checkArgs(command string, args []string) error {
	switch command {
	case "code", "list", "login":
		if len(args) != 0 {
			return fmt.Errorf("%s: unexpected argument %q", command, args[0])
		}
	case "accept":
		if len(args) == 0 {
			return errors.New("accept: at least one offer id required")
		}
	case "cancel":
		if len(args) != 1 {
			return errors.New("cancel: exactly one offer id required")
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// loadConfig layers flags over the config file, and the environment under
// both.
func loadConfig(flagSet *pflag.FlagSet, f *flags, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("mafile") {
		ma, err := config.ImportMaFile(f.maFile)
		if err != nil {
			return nil, err
		}
		cfg.Merge(ma)
	}

	overrides := []struct {
		flag string
		dst  *string
		src  string
	}{
		{"account", &cfg.AccountName, f.accountName},
		{"steam-id", &cfg.SteamID, f.steamID},
		{"listing-format", &cfg.ListingFormat, f.listingFormat},
		{"log-level", &cfg.LogLevel, f.logLevel},
		{"proxy", &cfg.Proxy, f.proxy},
	}
	for _, o := range overrides {
		if flagSet.Changed(o.flag) {
			*o.dst = o.src
		}
	}
	if flagSet.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flagSet.Changed("request-interval") {
		cfg.RequestInterval = f.requestInterval
	}

	cfg.ApplyEnv(getenv)
	return cfg, nil
}

// newLogger writes text to a terminal and JSON anywhere else.
func newLogger(w *os.File, level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(w.Fd())) {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `steamguard: Steam Guard codes and trade confirmations.

Usage:
  steamguard [flags] code              print the current login code
  steamguard [flags] list              list pending confirmations
  steamguard [flags] accept <offer>... accept trade offer confirmations
  steamguard [flags] cancel <offer>    cancel a trade offer confirmation
  steamguard [flags] login             log in and store the refresh token

Flags:
%s
Secrets missing from the config are read from STEAM_USERNAME, STEAM_PASSWORD,
STEAM_SHARED_SECRET and STEAM_IDENTITY_SECRET.
`, flagSet.FlagUsages())
}
