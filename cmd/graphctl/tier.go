package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/robosystems/graphplane/internal/tier"
)

func handleTier(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printTierUsage()
		return nil
	}

	switch args[0] {
	case "list":
		return tierList(ctx, args[1:])
	case "get":
		return tierGet(ctx, args[1:])
	default:
		printTierUsage()
		return fmt.Errorf("unknown tier subcommand %q", args[0])
	}
}

func printTierUsage() {
	fmt.Println(`Usage:
  graphctl tier list [--include-disabled]
  graphctl tier get <tier-name>`)
}

func tierList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tier list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var includeDisabled bool
	fs.BoolVar(&includeDisabled, "include-disabled", false, "include disabled tiers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	tiers, err := deps.Tiers.AvailableTiers(includeDisabled)
	if err != nil {
		return err
	}
	printJSON(tiers)
	return nil
}

func tierGet(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("tier name required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	cfg, err := deps.Tiers.Get(tier.Name(args[0]))
	if err != nil {
		return err
	}
	printJSON(cfg)
	return nil
}
