package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/tier"
)

func handleAlloc(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printAllocUsage()
		return nil
	}

	switch args[0] {
	case "new":
		return allocNew(ctx, args[1:])
	case "locate":
		return allocLocate(ctx, args[1:])
	case "deallocate":
		return allocDeallocate(ctx, args[1:])
	default:
		printAllocUsage()
		return fmt.Errorf("unknown alloc subcommand %q", args[0])
	}
}

func printAllocUsage() {
	fmt.Println(`Usage:
  graphctl alloc new --tenant <id> --tier <name> [--graph-id <id>]
  graphctl alloc locate <graph-id>
  graphctl alloc deallocate <graph-id>`)
}

func allocNew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("alloc new", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var tenant, tierName, graphID string
	fs.StringVar(&tenant, "tenant", "", "tenant id (required)")
	fs.StringVar(&tierName, "tier", "", "tier name (required)")
	fs.StringVar(&graphID, "graph-id", "", "pre-generated graph id (optional; one is minted if omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if tenant == "" || tierName == "" {
		return errors.New("--tenant and --tier are required")
	}

	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	id := identifier.ID(graphID)
	if id == "" {
		generated, err := identifier.GenerateGraphID()
		if err != nil {
			return err
		}
		id = generated
	}

	loc, err := deps.Allocator.Allocate(ctx, tenant, id, tier.Name(tierName))
	if err != nil {
		return err
	}
	printJSON(loc)
	return nil
}

func allocLocate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("graph id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	loc, err := deps.Allocator.FindDatabaseLocation(ctx, identifier.ID(args[0]))
	if err != nil {
		return err
	}
	printJSON(loc)
	return nil
}

func allocDeallocate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("graph id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.Allocator.Deallocate(ctx, identifier.ID(args[0])); err != nil {
		return err
	}
	fmt.Println("deallocated")
	return nil
}
