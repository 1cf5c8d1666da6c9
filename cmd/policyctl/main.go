// Command policyctl is the §6 CLI surface: the only externally-facing control the cache
// core exposes, wrapping the device-aware policy selector (component H).
//
// Grounded on cmd/cli/commands/dsort.go's urfave/cli wiring style (named package-level
// cli.Flag variables, a single cli.App with Name/Usage/Flags/Action, flag values
// read back out of *cli.Context inside the handler) and its mpb.Progress usage for
// --verbose --print-matrix's table walk.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/coralstore/bpcache/selector"
)

var (
	workloadFlag = cli.StringFlag{
		Name:  "workload",
		Usage: "YCSB-style workload class: ycsb_a .. ycsb_f (or bare a..f)",
	}
	storageFlag = cli.StringFlag{
		Name:  "storage",
		Usage: "backing storage device: volatile, pmem, or file",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "include the rationale and derived build-config flags in the output",
	}
	printMatrixFlag = cli.BoolFlag{
		Name:  "print-matrix",
		Usage: "ignore --workload/--storage and dump the full decision table as JSON",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "policyctl"
	app.Usage = "recommend a replacement policy and build config for a workload/device pair"
	app.Flags = []cli.Flag{workloadFlag, storageFlag, verboseFlag, printMatrixFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Bool(printMatrixFlag.Name) {
		return printMatrix(c.Bool(verboseFlag.Name))
	}

	workloadStr := c.String(workloadFlag.Name)
	storageStr := c.String(storageFlag.Name)
	if workloadStr == "" || storageStr == "" {
		return cli.NewExitError("both --workload and --storage are required (or pass --print-matrix)", 1)
	}

	w, err := selector.ParseWorkload(workloadStr)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	d, err := selector.ParseDevice(storageStr)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	rec := selector.Select(w, d)
	if c.Bool(verboseFlag.Name) {
		fmt.Printf("%s,%s\n", rec.Policy, rec.BuildConfig)
		fmt.Printf("rationale: %s\n", rec.Rationale)
		fmt.Printf("concurrent=%v selective_update=%v update_in_order=%v manage_ghost_queue=%v\n",
			rec.EnableConcurrent, rec.EnableSelectiveUpdate, rec.EnableUpdateInOrder, rec.EnableManageGhostQueue)
		return nil
	}
	fmt.Printf("%s,%s\n", rec.Policy, rec.BuildConfig)
	return nil
}

// printMatrix walks the full workload x device table. Under --verbose it renders an
// mpb progress bar over the walk, grounded on dsort.go's genShardsHandler use of
// mpb.New/AddBar/Increment for a bounded, known-length unit of work; the table itself is
// always emitted as JSON regardless of --verbose, per spec.md §6 (machine-readable by
// default, --verbose only adds detail, never changes the output format of --print-matrix).
func printMatrix(verbose bool) error {
	rows := selector.Matrix()

	if verbose {
		text := "Computing recommendations: "
		progress := mpb.New(mpb.WithWidth(60))
		bar := progress.AddBar(int64(len(rows)),
			mpb.PrependDecorators(
				decor.Name(text, decor.WC{W: len(text) + 2, C: decor.DSyncWidthR}),
				decor.CountersNoUnit("%d/%d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(decor.Percentage(decor.WCSyncWidth)),
		)
		for range rows {
			bar.Increment()
			time.Sleep(time.Millisecond)
		}
		progress.Wait()
	}

	out, err := selector.MatrixJSON()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(string(out))
	return nil
}
