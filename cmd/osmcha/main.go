package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/osmcha/osmcha"
	"github.com/osmcha/osmcha/config"
	"github.com/osmcha/osmcha/log"
)

func printCmds() {
	fmt.Fprintf(os.Stderr, "Usage: %s COMMAND [args]\n\n", os.Args[0])
	fmt.Println("Available commands:")
	fmt.Println("\trun")
	fmt.Println("\tserve")
	fmt.Println("\tfetch")
	fmt.Println("\tbackfill")
	fmt.Println("\tsweep")
	fmt.Println("\trequeue")
	fmt.Println("\tversion")
}

func main() {
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}

	if len(os.Args) <= 1 {
		printCmds()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		run(config.ParseRun(os.Args[2:]))
	case "serve":
		opts := config.ParseServe(os.Args[2:])
		serve(opts)
	case "fetch":
		fetch(config.ParseFetch(os.Args[2:]))
	case "backfill":
		backfill(config.ParseBackfill(os.Args[2:]))
	case "sweep":
		sweepOnce(config.ParseSweep(os.Args[2:]))
	case "requeue":
		requeue(config.ParseRequeue(os.Args[2:]))
	case "version":
		fmt.Println(osmcha.Version)
		os.Exit(0)
	default:
		printCmds()
		log.Fatalf("invalid command: '%s'", os.Args[1])
	}
}
