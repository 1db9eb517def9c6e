// Command graphctl is the operator CLI for the graph-database control
// plane, dispatching to the same internal packages graphplane-opsd runs
// in-process (alloc, subgraph, tier, registry, migrate) rather than
// talking to an HTTP surface — spec.md §1 places the caller-facing REST
// API out of scope.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return fmt.Errorf("no command specified")
	}

	switch args[0] {
	case "alloc":
		return handleAlloc(ctx, args[1:])
	case "subgraph":
		return handleSubgraph(ctx, args[1:])
	case "tier":
		return handleTier(ctx, args[1:])
	case "registry":
		return handleRegistry(ctx, args[1:])
	case "migrate":
		return handleMigrate(ctx, args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Println(`graphctl - graph-database control plane operator CLI

Usage:
  graphctl <command> [subcommand] [flags]

Commands:
  alloc      Allocate/locate/deallocate graph databases
  subgraph   Create/list/delete/inspect subgraphs
  tier       Inspect the tier catalog
  registry   Inspect the instance/database registry
  migrate    Apply or roll back subgraph-metadata/credit-pool migrations

Configuration is read entirely from the environment (see spec.md §6).`)
}
