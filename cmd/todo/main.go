package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ms-iwade/opensearch-app/internal/cli"
)

func main() {
	// Root flags (apply to every subcommand)
	verbose := flag.Bool("v", false, "verbose logging")
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	// Hand the remaining args to the CLI runner.
	args := flag.Args()
	if len(args) == 0 {
		cli.PrintHelp()
		os.Exit(2)
	}

	code := cli.Run(args, cli.Options{
		Verbose:    *verbose,
		ConfigPath: *configPath,
	})
	if code != 0 {
		fmt.Fprintln(os.Stderr)
	}
	os.Exit(code)
}
