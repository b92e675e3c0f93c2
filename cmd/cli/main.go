package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/rjlee/actual-landg-pension/internal/app"
	"github.com/rjlee/actual-landg-pension/internal/config"
	"github.com/rjlee/actual-landg-pension/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(log)
	case "login":
		runLogin(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("actual-landg-pension CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync      Read the pension value and record changes in Actual Budget")
	fmt.Println("  login     Log in to Legal & General and print the pension value")
	fmt.Println("  history   Print recent sync history")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

type commonFlags struct {
	configDir *string
	verbose   *bool
	debug     *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		configDir: fs.String("config", ".", "Directory holding config.yaml and .env"),
		verbose:   fs.Bool("verbose", false, "Enable debug logging"),
		debug:     fs.Bool("debug", false, "Show the browser window during login"),
	}
}

// setup loads configuration and builds the services.
func setup(ctx context.Context, log zerolog.Logger, flags commonFlags) (*app.App, zerolog.Logger) {
	cfg, err := config.Load(*flags.configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.Landg.Headful = *flags.debug
	log = logger.WithLevel(log, cfg.LogLevel, *flags.verbose)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	return a, log
}

func signalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return logger.WithContext(ctx, log), cancel
}

func runSync(log zerolog.Logger) {
	fs, flags := newFlagSet("sync")
	fs.Parse(os.Args[2:])

	ctx, cancel := signalContext(log)
	defer cancel()

	a, log := setup(ctx, log, flags)
	defer a.Close()

	if err := a.Config.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("Portal credentials are not configured")
	}

	log.Info().Str("mapping", a.Store.Location()).Msg("Starting sync")
	go promptForCode(ctx, a.Coordinator, os.Stdin)

	count := a.Engine.RunSync(ctx)

	fmt.Printf("Completed sync; applied %d transaction(s).\n", count)
}

func runLogin(log zerolog.Logger) {
	fs, flags := newFlagSet("login")
	fs.Parse(os.Args[2:])

	ctx, cancel := signalContext(log)
	defer cancel()

	a, log := setup(ctx, log, flags)
	defer a.Close()

	if err := a.Config.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("Portal credentials are not configured")
	}

	// The code is read from stdin when the portal asks for one.
	go promptForCode(ctx, a.Coordinator, os.Stdin)

	value, err := a.Observer.Observe(ctx, a.Credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}

	fmt.Printf("Total savings: £%.2f\n", value)
}

func runHistory(log zerolog.Logger) {
	fs, flags := newFlagSet("history")
	limit := fs.Int("limit", 20, "Number of rows to print")
	fs.Parse(os.Args[2:])

	ctx, cancel := signalContext(log)
	defer cancel()

	a, log := setup(ctx, log, flags)
	defer a.Close()

	if a.History == nil {
		log.Fatal().Msg("No history sink configured; set GCP_PROJECT")
	}

	records, err := a.History.Recent(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read history")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tPASS\tACCOUNT\tOUTCOME\tOBSERVED\tPREVIOUS\tAMOUNT")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%d\n",
			r.RecordedAt.Format("2006-01-02 15:04"), r.PassID, r.AccountID, r.Outcome,
			r.Observed, r.Previous, r.AmountMinor)
	}
	w.Flush()
}
