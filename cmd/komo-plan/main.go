// Package main is a command line front end that optimizes trajectories described by problem files.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/trajopt/config"
	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/motionplan/komo"
)

const (
	// Flags.
	flagDebug          = "debug"
	flagPlot           = "plot"
	flagOut            = "out"
	flagCheckGradients = "check-gradients"
	flagTolerance      = "tolerance"
	flagValues         = "values"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type planner struct {
	logger logging.Logger
}

func newApp(w io.Writer) *cli.App {
	p := &planner{}
	return &cli.App{
		Name:   "komo-plan",
		Usage:  "optimize k-order trajectories",
		Writer: w,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				p.logger = logging.NewDebugLogger("komo")
			} else {
				p.logger = logging.NewLogger("komo")
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if p.logger != nil {
				utils.UncheckedErrorFunc(p.logger.Sync)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "optimize a problem and print the cost report",
				ArgsUsage: "PROBLEM",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagPlot,
						Usage: "save a plot of the joint trajectories to `FILE`",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write the optimized path as JSON to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagCheckGradients,
						Usage: "compare the Jacobian with finite differences after optimizing",
					},
					&cli.Float64Flag{
						Name:  flagTolerance,
						Usage: "gradient check tolerance",
						Value: 1e-4,
					},
				},
				Action: p.runAction,
			},
			{
				Name:      "report",
				Usage:     "print the objectives of a problem without optimizing",
				ArgsUsage: "PROBLEM",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagValues,
						Usage: "include objective values when they have been evaluated",
					},
				},
				Action: p.reportAction,
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of problem files",
				Action: func(c *cli.Context) error {
					return writeJSON(c.App.Writer, config.Schema())
				},
			},
		},
	}
}

func (p *planner) build(c *cli.Context) (*komo.KOMO, error) {
	if c.NArg() != 1 {
		return nil, errors.New("expected exactly one problem file")
	}
	problem, err := config.Read(c.Args().First())
	if err != nil {
		return nil, err
	}
	return problem.Build(p.logger)
}

func (p *planner) runAction(c *cli.Context) error {
	k, err := p.build(c)
	if err != nil {
		return err
	}
	if err := k.Optimize(c.Context, true); err != nil {
		return err
	}
	report, err := k.Report()
	if err != nil {
		return err
	}
	if err := report.Write(c.App.Writer); err != nil {
		return err
	}

	if out := c.String(flagOut); out != "" {
		if err := writePath(k, out); err != nil {
			return err
		}
	}
	if plotFile := c.String(flagPlot); plotFile != "" {
		if err := k.PlotTrajectory(plotFile); err != nil {
			return err
		}
	}
	if c.Bool(flagCheckGradients) {
		check, err := k.CheckGradients(c.Float64(flagTolerance))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "gradient check: max difference %.3g, %d failing rows\n", check.MaxDiff, len(check.Failures))
		if !check.Success() {
			return errors.New("gradient check failed")
		}
	}
	return nil
}

func (p *planner) reportAction(c *cli.Context) error {
	k, err := p.build(c)
	if err != nil {
		return err
	}
	if err := k.Reset(0); err != nil {
		return err
	}
	if err := k.WriteProblem(c.App.Writer); err != nil {
		return err
	}
	specs, err := k.ProblemSpec(c.Bool(flagValues))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, specs)
}

type pathFile struct {
	Times []float64   `json:"times"`
	Path  [][]float64 `json:"path"`
}

func writePath(k *komo.KOMO, name string) (err error) {
	var out pathFile
	if out.Path, err = k.Path(); err != nil {
		return err
	}
	if out.Times, err = k.PathTimes(); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return writeJSON(f, out)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
