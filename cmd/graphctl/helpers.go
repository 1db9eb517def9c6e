package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robosystems/graphplane/internal/bootstrap"
	"github.com/robosystems/graphplane/internal/config"
)

func connect(ctx context.Context, component string) (*bootstrap.Deps, error) {
	cfg := config.FromEnv()
	return bootstrap.New(ctx, cfg, component)
}

func printJSON(v interface{}) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(raw))
}
