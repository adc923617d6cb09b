// Package main provides a CLI for resolving the device identity.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/arcanalabs/identity/internal/platform/config"

	deviceidcmd "github.com/arcanalabs/identity/internal/cmd/deviceid"
)

func main() {
	cfg, err := deviceidcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := deviceidcmd.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
