package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/kelo-pay/kelo/internal/infra"
	"github.com/kelo-pay/kelo/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var databaseURL string
	var steps int

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (default: $DATABASE_URL)")
	flagSet.IntVar(&steps, "steps", 1, "number of migrations to roll back with down")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("expected exactly one command")
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"), "kelo-migrate", os.Getenv("APP_ENV"))
	m, err := infra.NewMigrator(databaseURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		return m.Down(steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty=%t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Apply or roll back the Kelo database schema.

Usage:
  migrate [flags] up|down|version

Flags:
%s`, flagSet.FlagUsages())
}
