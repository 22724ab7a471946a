// Package main implements the ktxgo command: it parses flags, layers them
// on the selected configuration profile and runs one console command.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/ktxgo/ktxgo/internal/app"
	"github.com/ktxgo/ktxgo/internal/auth"
	"github.com/ktxgo/ktxgo/internal/config"
	"github.com/ktxgo/ktxgo/internal/errors"
	"github.com/ktxgo/ktxgo/internal/journal"
	"github.com/ktxgo/ktxgo/internal/logging"
	"github.com/ktxgo/ktxgo/internal/payment"
	"github.com/ktxgo/ktxgo/internal/ui/picker"
)

// Application metadata
const (
	Version     = "1.0.0"
	ProgramName = "KTXgo"
)

// Commands
const (
	cmdRun          = "run"
	cmdLogin        = "login"
	cmdLogout       = "logout"
	cmdReservations = "reservations"
	cmdTickets      = "tickets"
	cmdHistory      = "history"
	cmdCredentials  = "credentials"
)

// CommandLineArgs represents parsed command-line arguments
type CommandLineArgs struct {
	Command string
	Rest    []string

	ConfigPath  string
	Profile     string
	Departure   string
	Arrival     string
	Date        string
	Hour        string
	Seat        string
	MaxAttempts int
	Headless    bool
	NoHeadless  bool
	Interactive bool
	AutoPay     bool
	Telegram    bool
	Limit       int
	ShowHelp    bool
	ShowVersion bool

	// Flags explicitly given on the command line
	set map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := parseCommandLineArgs(argv, os.Stderr)
	if err != nil {
		return 2
	}
	if handleEarlyExitConditions(args) {
		return 0
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	configManager, err := config.NewManager(args.ConfigPath, logging.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing configuration: %v\n", err)
		return 1
	}
	profile, err := configManager.LoadProfile(args.Profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := initializeLogging(profile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args.Command {
	case cmdHistory:
		return history(ctx, profile, args, logger)
	case cmdCredentials:
		return credentials(profile, args, logger)
	}

	headless := !profile.Headed
	if args.set["headless"] {
		headless = args.Headless
	}
	if args.NoHeadless {
		headless = false
	}

	deps := app.Dependencies{Logger: logger}
	if args.Interactive {
		deps.Prompter = picker.NewPrompter(nil, nil)
	}
	console, err := app.NewConsole(ctx, profile, headless, deps)
	if err != nil {
		logger.Error("Failed to initialize console", "error", err.Error())
		fmt.Fprintf(os.Stderr, "Error initializing ktxgo: %v\n", err)
		return 1
	}
	defer func() {
		if err := console.Close(); err != nil {
			logger.Warn("Shutdown incomplete", "error", err.Error())
		}
	}()

	switch args.Command {
	case cmdLogin:
		_, err = console.Login(ctx)
	case cmdLogout:
		err = console.Logout()
	case cmdReservations:
		_, err = console.Reservations(ctx)
	case cmdTickets:
		_, err = console.Tickets(ctx)
	default:
		_, err = console.Run(ctx, runOptions(console, args))
	}
	return exitCode(console, err, logger)
}

// parseCommandLineArgs processes the subcommand and its flags
func parseCommandLineArgs(argv []string, stderr io.Writer) (CommandLineArgs, error) {
	args := CommandLineArgs{Command: cmdRun, set: make(map[string]bool)}
	if len(argv) > 0 && !strings.HasPrefix(argv[0], "-") {
		args.Command = argv[0]
		argv = argv[1:]
	}
	switch args.Command {
	case cmdRun, cmdLogin, cmdLogout, cmdReservations, cmdTickets, cmdHistory, cmdCredentials:
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n\n", args.Command)
		usage(stderr, nil)
		return args, fmt.Errorf("unknown command %q", args.Command)
	}

	fs := flag.NewFlagSet(args.Command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&args.ConfigPath, "config", "", "Configuration file (default ~/.config/ktxgo/config.yaml)")
	fs.StringVar(&args.Profile, "profile", "default", "Profile name from the configuration file")
	fs.StringVar(&args.Departure, "departure", "", "Departure station (e.g. 서울)")
	fs.StringVar(&args.Arrival, "arrival", "", "Arrival station (e.g. 부산)")
	fs.StringVar(&args.Date, "date", "", "Departure date YYYYMMDD (default now + 10 minutes)")
	fs.StringVar(&args.Hour, "time", "", "Earliest departure hour HH (default now + 10 minutes)")
	fs.StringVar(&args.Seat, "seat", "", "Seat preference: general, special, any or standing")
	fs.IntVar(&args.MaxAttempts, "max-attempts", 0, "Stop after this many polls (0 polls until cancelled)")
	fs.BoolVar(&args.Headless, "headless", true, "Run the browser headless")
	fs.BoolVar(&args.NoHeadless, "no-headless", false, "Show the browser window")
	fs.BoolVar(&args.Interactive, "interactive", isatty.IsTerminal(os.Stdin.Fd()), "Prompt for conditions and target trains")
	fs.BoolVar(&args.AutoPay, "auto-pay", false, "Pay the reservation with the stored card")
	fs.BoolVar(&args.Telegram, "telegram", false, "Send a Telegram notification on success")
	fs.IntVar(&args.Limit, "limit", 20, "Number of runs shown by history")
	fs.BoolVar(&args.ShowHelp, "help", false, "Display usage information and exit")
	fs.BoolVar(&args.ShowVersion, "version", false, "Display version information and exit")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(argv); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			args.ShowHelp = true
			return args, nil
		}
		return args, err
	}
	fs.Visit(func(f *flag.Flag) { args.set[f.Name] = true })
	args.Rest = fs.Args()
	return args, nil
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: ktxgo [command] [options]\n\n")
	fmt.Fprintf(w, "%s v%s\n\n", ProgramName, Version)
	fmt.Fprintf(w, "Polls Korail for seats and reserves the first one that fits.\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  run                           Poll and reserve (default)\n")
	fmt.Fprintf(w, "  login                         Sign in and save the session\n")
	fmt.Fprintf(w, "  logout                        Remove the saved session\n")
	fmt.Fprintf(w, "  reservations                  List current reservations\n")
	fmt.Fprintf(w, "  tickets                       List issued tickets\n")
	fmt.Fprintf(w, "  history                       Show journalled runs\n")
	fmt.Fprintf(w, "  credentials set card          Store the payment card (KTXGO_CARD_* variables)\n")
	fmt.Fprintf(w, "  credentials set telegram      Store the Telegram bot (KTXGO_TELEGRAM_TOKEN, KTXGO_TELEGRAM_CHAT_ID)\n")
	fmt.Fprintf(w, "  credentials clear             Remove stored card and Telegram settings\n")
	if fs != nil {
		fmt.Fprintf(w, "\nOptions:\n")
		fs.PrintDefaults()
	}
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  ktxgo --departure 서울 --arrival 부산 --date 20261020 --time 06 --interactive=false\n")
	fmt.Fprintf(w, "  ktxgo --auto-pay --telegram\n")
	fmt.Fprintf(w, "  ktxgo login --no-headless\n")
}

// handleEarlyExitConditions processes help and version flags that cause immediate exit
func handleEarlyExitConditions(args CommandLineArgs) bool {
	if args.ShowHelp {
		usage(os.Stdout, nil)
		return true
	}
	if args.ShowVersion {
		fmt.Printf("%s v%s\n", ProgramName, Version)
		return true
	}
	return false
}

// initializeLogging sets up the global logger from the profile
func initializeLogging(profile *config.Profile) *logging.Logger {
	if err := logging.InitGlobalLogger(profile.LoggingConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := logging.GetGlobalLogger()
	logger.Debug("KTXgo starting", "version", Version, "profile", profile.Name)
	return logger
}

// runOptions layers explicitly given flags over the profile defaults.
func runOptions(console *app.Console, args CommandLineArgs) app.Options {
	opts := console.DefaultOptions()
	opts.Interactive = args.Interactive
	if args.Departure != "" {
		opts.Departure = args.Departure
	}
	if args.Arrival != "" {
		opts.Arrival = args.Arrival
	}
	if args.Date != "" {
		opts.Date = args.Date
	}
	if args.Hour != "" {
		opts.Hour = args.Hour
	}
	if args.Seat != "" {
		opts.Seat = args.Seat
	}
	if args.set["max-attempts"] {
		opts.MaxAttempts = args.MaxAttempts
	}
	if args.set["auto-pay"] {
		opts.AutoPay = args.AutoPay
	}
	if args.set["telegram"] {
		opts.Telegram = args.Telegram
	}
	return opts
}

// exitCode reports err on the console and maps it to the process status.
func exitCode(console *app.Console, err error, logger *logging.Logger) int {
	if err == nil {
		return 0
	}
	if errors.Classify(err) == errors.KindCancelled {
		fmt.Println("예매 정보 입력 중 취소되었습니다.")
		return 0
	}
	logger.Error("Run failed", "error", err.Error(), "kind", errors.Classify(err).String())
	console.PrintError(err)
	return 1
}

func history(ctx context.Context, profile *config.Profile, args CommandLineArgs, logger *logging.Logger) int {
	path := profile.Journal
	switch path {
	case app.JournalOff:
		fmt.Println("The journal is disabled for this profile.")
		return 0
	case "":
		path = filepath.Join(profile.DataDir, journal.DefaultFile)
	}
	store, err := journal.Open(path, logger.WithComponent("journal"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()
	if err := app.History(ctx, os.Stdout, store, args.Limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func credentials(profile *config.Profile, args CommandLineArgs, logger *logging.Logger) int {
	store, err := auth.NewManager(profile.DataDir, logger.WithComponent("auth"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch strings.Join(args.Rest, " ") {
	case "set card":
		err = app.SetCard(os.Stdout, store, payment.Card{
			Number:   os.Getenv("KTXGO_CARD_NUMBER"),
			Password: os.Getenv("KTXGO_CARD_PASSWORD"),
			Birthday: os.Getenv("KTXGO_CARD_BIRTHDAY"),
			Expire:   os.Getenv("KTXGO_CARD_EXPIRE"),
		})
	case "set telegram":
		err = app.SetTelegram(os.Stdout, store, auth.Telegram{
			Token:  os.Getenv("KTXGO_TELEGRAM_TOKEN"),
			ChatID: os.Getenv("KTXGO_TELEGRAM_CHAT_ID"),
		})
	case "clear":
		err = app.ClearCredentials(os.Stdout, store)
	default:
		fmt.Fprintln(os.Stderr, "Usage: ktxgo credentials set card|set telegram|clear")
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
