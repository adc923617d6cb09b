// Package main provides a one-shot utility for directory token key generation.
//
// It emits the asymmetric keypair used to sign and verify device requests
// against the identity directory.
package main

import (
	"os"

	"github.com/arcanalabs/identity/internal/platform/config"
	"github.com/arcanalabs/identity/internal/tools/directorykey"
)

func main() {
	if err := directorykey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate directory token key: %v", err)
	}
}
