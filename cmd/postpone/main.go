// Package main runs one postponement of a program tree version.
//
//	postpone -acronym BIR1BA -year 2024 [-version NAME] [-transition] [-until 2027]
//
// Without -until the version is copied forward up to its end year or the
// postponement horizon, whichever comes first. Each year commits on its own,
// so a run that stops early keeps the years already created.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/osis-hub/program-hub/config"
	"github.com/osis-hub/program-hub/internal/app"
	"github.com/osis-hub/program-hub/internal/application/command"
	"github.com/osis-hub/program-hub/internal/domain/shared"
	"github.com/osis-hub/program-hub/internal/domain/treeversion"
	"github.com/osis-hub/program-hub/pkg/logger"
)

type options struct {
	acronym    string
	year       int
	version    string
	transition bool
	until      int
}

func main() {
	var opts options
	flag.StringVar(&opts.acronym, "acronym", "", "offer acronym of the version to postpone (required)")
	flag.IntVar(&opts.year, "year", 0, "academic year of the source version (required)")
	flag.StringVar(&opts.version, "version", "", "version name, empty for the standard version")
	flag.BoolVar(&opts.transition, "transition", false, "postpone the transition version")
	flag.IntVar(&opts.until, "until", 0, "last year to create, 0 for as far as allowed")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "postpone: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.acronym == "" || opts.year == 0 {
		return fmt.Errorf("-acronym and -year are required")
	}
	name, err := shared.NewVersionName(opts.version)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.Options{
		Output:  os.Stderr,
		Level:   logger.ParseLevel(cfg.App.LogLevel),
		Service: cfg.App.Name + "-postpone",
	})

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	source := treeversion.Identity{
		OfferAcronym: strings.ToUpper(opts.acronym),
		Year:         opts.year,
		VersionName:  name,
		IsTransition: opts.transition,
	}
	result, err := a.Commands.PostponeVersion.Handle(ctx, command.PostponeVersionCommand{
		Version:   source,
		UntilYear: opts.until,
	})
	if err != nil {
		return err
	}

	printResult(source, result)
	return nil
}

func printResult(source treeversion.Identity, result *treeversion.PostponeResult) {
	fmt.Printf("postponed %s\n", source)
	if len(result.Created) == 0 {
		fmt.Println("  nothing to create")
	}
	for _, id := range result.Created {
		fmt.Printf("  created %s\n", id)
	}
	for _, year := range result.SkippedYears {
		fmt.Printf("  skipped %d (already exists)\n", year)
	}
	if result.StoppedAt != 0 {
		fmt.Printf("  stopped at %d (end date reached)\n", result.StoppedAt)
	}
}
