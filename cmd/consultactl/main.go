package main

import (
	"fmt"
	"os"

	"github.com/iago/consulta-async/cmd/consultactl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
