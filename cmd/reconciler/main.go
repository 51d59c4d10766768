// Command reconciler matches M-Pesa payments to bank statement lines.
//
// Usage:
//
//	reconciler serve   [-port 8085]
//	reconciler import  -kind payments|bank|students [-account N] file.csv
//	reconciler suggest [-start YYYY-MM-DD] [-end YYYY-MM-DD] [-id PAYMENT]
//	reconciler auto    [-dry-run] [-id PAYMENT]
//	reconciler bulk    -ids A,B,C [-ref BANKREF] [-notes TEXT]
//	reconciler history PAYMENT
//
// Every command accepts -config, -verbose and -actor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/mpesa-reconciler/internal/cli"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		flags, err := cli.ParseServeFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		// serve installs its own signal handling for graceful shutdown
		stop()
		rt, err := cli.Open(flags.CommonFlags, "api", os.Stdout)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()
		return cli.RunServe(rt, flags)

	case "import":
		flags, err := cli.ParseImportFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		return withRuntime(flags.CommonFlags, "ingest", func(rt *cli.Runtime) error {
			_, err := cli.RunImport(ctx, rt, flags)
			return err
		})

	case "suggest":
		flags, err := cli.ParseSuggestFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		return withRuntime(flags.CommonFlags, "reconcile", func(rt *cli.Runtime) error {
			return cli.RunSuggest(ctx, rt, flags)
		})

	case "auto":
		flags, err := cli.ParseAutoFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		return withRuntime(flags.CommonFlags, "reconcile", func(rt *cli.Runtime) error {
			return cli.RunAuto(ctx, rt, flags)
		})

	case "bulk":
		flags, err := cli.ParseBulkFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		return withRuntime(flags.CommonFlags, "reconcile", func(rt *cli.Runtime) error {
			_, err := cli.RunBulk(ctx, rt, flags)
			return err
		})

	case "history":
		flags, err := cli.ParseHistoryFlags(args, os.Stderr)
		if err != nil {
			return err
		}
		return withRuntime(flags.CommonFlags, "reconcile", func(rt *cli.Runtime) error {
			return cli.RunHistory(ctx, rt, flags)
		})

	case "help", "-h", "--help":
		usage()
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func withRuntime(flags cli.CommonFlags, system string, fn func(*cli.Runtime) error) error {
	rt, err := cli.Open(flags, system, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(rt)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: reconciler <command> [flags]

Commands:
  serve     Run the HTTP API
  import    Load payments, bank lines or students from CSV (sqlite backend)
  suggest   List pending payments with their best bank match
  auto      Reconcile every payment that has a suggested match
  bulk      Reconcile several payments in one batch
  history   Show the reconciliation trail of a payment

Run 'reconciler <command> -h' for command flags.`)
}
