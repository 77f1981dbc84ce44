package main

import (
	"os"

	"github.com/edgelesssys/go-tdx-attestation/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
