package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/pkg/profile"
	"go.uber.org/multierr"
	"gopkg.in/urfave/cli.v1"

	"github.com/symcheck/symcheck"
	"github.com/symcheck/symcheck/configs"
	"github.com/symcheck/symcheck/model"
	"github.com/symcheck/symcheck/store"
	"github.com/symcheck/symcheck/trace"
)

var cliApp = cli.NewApp()

func init() {
	cliApp.Name = "symcheck"
	cliApp.Usage = "Verify a protocol model against a network attacker"
	cliApp.ArgsUsage = "model.toml"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "run configuration (any format viper reads)",
		},
		cli.IntFlag{
			Name:  "depth, d",
			Usage: "maximum exploration depth, overriding the configuration",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "log exploration progress",
		},
		cli.StringFlag{
			Name:  "cpuprofile",
			Usage: "write a CPU profile into this directory",
		},
	}
	cliApp.Action = verify
}

func main() {
	err := cliApp.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func verify(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one model file, got %d arguments", c.NArg())
	}
	if dir := c.String("cpuprofile"); dir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.Quiet).Stop()
	}

	var conf configs.Root
	if path := c.String("config"); path != "" {
		conf, err = configs.ReadConfig(path)
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
	}
	if depth := c.Int("depth"); depth > 0 {
		conf.MaxDepth = depth
	}

	m, err := model.LoadFile(c.Args().First())
	if err != nil {
		return err
	}

	opts := conf.Options()
	if c.Bool("verbose") {
		opts = append(opts, symcheck.SetLogger(log.New(os.Stderr, "symcheck: ", log.LstdFlags)))
	}
	if conf.CacheDir != "" {
		cache, err := store.Open(conf.CacheDir)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, cache.Close())
		}()
		opts = append(opts, symcheck.SetCache(cache))
	}
	if conf.TraceFile != "" {
		recorder, closeRecorder, err := trace.MakeLocalFileRecorder(conf.TraceFile)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, closeRecorder())
		}()
		opts = append(opts, symcheck.SetTraceRecorder(recorder))
	}

	ctx := context.Background()
	if conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Timeout)
		defer cancel()
	}
	report, err := symcheck.Verify(ctx, m, opts...)
	fmt.Print(report)
	if err != nil {
		if errors.Is(err, symcheck.ErrModel) {
			return cli.NewExitError("model has errors", 2)
		}
		return err
	}
	if len(report.Violations()) > 0 {
		return cli.NewExitError(fmt.Sprintf("%d queries violated", len(report.Violations())), 1)
	}
	return nil
}
