package main

import (
	"os"

	ragrelaycmder "github.com/papercomputeco/ragrelay/cmd/ragrelay"
)

func main() {
	cmd := ragrelaycmder.NewRagrelayCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
