package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robosystems/graphplane/internal/identifier"
	"github.com/robosystems/graphplane/internal/registry"
)

func handleRegistry(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRegistryUsage()
		return nil
	}

	switch args[0] {
	case "instance":
		return registryInstance(ctx, args[1:])
	case "instances-by-tier":
		return registryInstancesByTier(ctx, args[1:])
	case "instances-by-node-type":
		return registryInstancesByNodeType(ctx, args[1:])
	case "database":
		return registryDatabase(ctx, args[1:])
	default:
		printRegistryUsage()
		return fmt.Errorf("unknown registry subcommand %q", args[0])
	}
}

func printRegistryUsage() {
	fmt.Println(`Usage:
  graphctl registry instance <instance-id>
  graphctl registry instances-by-tier <tier-name>
  graphctl registry instances-by-node-type <writer|shared_master|shared_replica>
  graphctl registry database <graph-id>`)
}

func registryInstance(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("instance id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	inst, err := deps.Registry.GetInstance(ctx, args[0])
	if err != nil {
		return err
	}
	printJSON(inst)
	return nil
}

func registryInstancesByTier(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("tier name required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	instances, err := deps.Registry.ListInstancesByTier(ctx, args[0])
	if err != nil {
		return err
	}
	printJSON(instances)
	return nil
}

func registryInstancesByNodeType(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("node type required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	instances, err := deps.Registry.ListInstancesByNodeType(ctx, registry.NodeType(args[0]))
	if err != nil {
		return err
	}
	printJSON(instances)
	return nil
}

func registryDatabase(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("graph id required")
	}
	deps, err := connect(ctx, "graphctl")
	if err != nil {
		return err
	}
	defer deps.Close()

	db, err := deps.Registry.GetDatabase(ctx, identifier.ID(args[0]))
	if err != nil {
		return err
	}
	printJSON(db)
	return nil
}
