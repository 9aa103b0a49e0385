package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"glass-server-go/internal/bootstrap"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "glass-server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts bootstrap.Options

	flagSet := pflag.NewFlagSet("glass-server", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config (default: $GLASS_CONFIG, .config.yaml or config.yaml)")
	flagSet.BoolVar(&opts.DisableDotEnv, "no-dotenv", false, "do not load variables from .env")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	fmt.Printf("[%s] [INFO] [Bootstrap] starting glass-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	return bootstrap.Run(context.Background(), opts)
}
