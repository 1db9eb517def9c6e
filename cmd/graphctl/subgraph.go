package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/subgraph"
)

func handleSubgraph(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printSubgraphUsage()
		return nil
	}

	switch args[0] {
	case "create":
		return subgraphCreate(ctx, args[1:])
	case "delete":
		return subgraphDelete(ctx, args[1:])
	case "list":
		return subgraphList(ctx, args[1:])
	case "info":
		return subgraphInfo(ctx, args[1:])
	default:
		printSubgraphUsage()
		return fmt.Errorf("unknown subgraph subcommand %q", args[0])
	}
}

func printSubgraphUsage() {
	fmt.Println(`Usage:
  graphctl subgraph create --parent <graph-id> --name <name> [--base-schema <name>] [--extensions a,b] [--fork]
  graphctl subgraph delete [--force] [--backup] <graph-id>
  graphctl subgraph list <parent-graph-id>
  graphctl subgraph info <graph-id>`)
}

func subgraphCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("subgraph create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var parent, name, baseSchema, extensions, forkTables, excludePatterns string
	var fork, ignoreErrors bool
	fs.StringVar(&parent, "parent", "", "parent graph id (required)")
	fs.StringVar(&name, "name", "", "subgraph name (required)")
	fs.StringVar(&baseSchema, "base-schema", "", "base schema name")
	fs.StringVar(&extensions, "extensions", "", "comma-separated schema extensions")
	fs.BoolVar(&fork, "fork", false, "fork parent staging tables into the new subgraph")
	fs.StringVar(&forkTables, "fork-tables", "", "comma-separated tables to fork (requires --fork)")
	fs.StringVar(&excludePatterns, "fork-exclude", "", "comma-separated glob patterns to exclude from the fork")
	fs.BoolVar(&ignoreErrors, "fork-ignore-errors", false, "tolerate per-table fork failures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if parent == "" || name == "" {
		return errors.New("--parent and --name are required")
	}

	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	result, err := deps.Subgraphs.Create(ctx, subgraph.CreateRequest{
		ParentGraphID: identifier.ID(parent),
		Name:          name,
		BaseSchema:    baseSchema,
		Extensions:    splitCSV(extensions),
		ForkParent:    fork,
		Fork: subgraph.ForkOptions{
			Tables:          splitCSV(forkTables),
			ExcludePatterns: splitCSV(excludePatterns),
			IgnoreErrors:    ignoreErrors,
		},
	})
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func subgraphDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("subgraph delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var force, backup bool
	fs.BoolVar(&force, "force", false, "delete even if the subgraph has data")
	fs.BoolVar(&backup, "backup", false, "take a best-effort backup before deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) < 1 {
		return errors.New("graph id required")
	}

	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.Subgraphs.Delete(ctx, identifier.ID(remaining[0]), force, backup); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}

func subgraphList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("parent graph id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	listings, err := deps.Subgraphs.List(ctx, identifier.ID(args[0]))
	if err != nil {
		return err
	}
	printJSON(listings)
	return nil
}

func subgraphInfo(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("graph id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	info, err := deps.Subgraphs.GetInfo(ctx, identifier.ID(args[0]))
	if err != nil {
		return err
	}
	printJSON(info)
	return nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
