package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "generate":
		err = runGenerate(args)
	case "query":
		err = runQuery(args)
	case "count":
		err = runCount(args)
	case "stats":
		err = runStats(args)
	case "serve":
		err = runServe(args)
	case "help", "--help", "-h":
		printUsage()
	case "version", "--version", "-v":
		fmt.Printf("tracedb %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	usage := `tracedb - trace event database

Usage:
  tracedb <command> [options]

Available Commands:
  init        Create a database directory and its config file
  generate    Append generated events (for testing and benchmarks)
  query       Print the events matching a condition
  count       Count matching events per time bucket
  stats       Show database statistics
  serve       Expose Prometheus metrics for a database
  help        Show this help message
  version     Show version information

Conditions:
  thread=7   kind=field-write   object=12/target   behavior=5/called
  and(thread=1, or(field=4, variable=2))   and[roles](object=3/arg1, object=9/value)

Use "tracedb <command> -h" for the options of a command.
`
	fmt.Print(usage)
}
