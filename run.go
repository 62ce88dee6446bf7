package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/chazu/sketchgraph/pkg/tessellate"
)

var (
	runSave        bool
	runPrefix      string
	runExport      string
	runFormat      string
	runMetrics     bool
	runSegments    int
	runPointRadius float64
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Evaluate a sketch script",
	Long: `Evaluate a sketch script and print the outcome of every solve.

With --save every group the script leaves behind is written to the record
store. With --export the resulting drawing is written as DXF or SVG,
chosen by the file extension.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runSave, "save", false, "Save every group to the record store")
	runCmd.Flags().StringVar(&runPrefix, "prefix", "", "Prefix for saved record names")
	runCmd.Flags().StringVar(&runExport, "export", "", "Export the drawing to a .dxf or .svg file")
	runCmd.Flags().StringVar(&runFormat, "format", "human", "Output format (human, json)")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "Print collected metrics after the run")
	runCmd.Flags().IntVar(&runSegments, "segments", tessellate.DefaultOptions().Segments, "Polyline segments per ellipse or spline")
	runCmd.Flags().Float64Var(&runPointRadius, "point-radius", 0, "Draw free points as circles of this radius")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "read script")
	}
	app, log, err := newApp()
	if err != nil {
		return err
	}
	defer log.Sync()

	result := app.Evaluate(string(source))
	out := cmd.OutOrStdout()
	if err := printResult(out, result, runFormat); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return errors.Errorf("%s: %d error(s)", args[0], len(result.Errors))
	}

	if runExport != "" {
		opts := tessellate.DefaultOptions()
		opts.Segments = runSegments
		opts.PointRadius = runPointRadius
		res, err := app.Export(result.Sketch, runExport, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %d edges of %d entities to %s\n", res.Edges, res.Entities, runExport)
	}

	if runSave {
		st, err := app.OpenStore()
		if err != nil {
			return err
		}
		defer st.Close()
		names, err := app.Save(st, result.Sketch, runPrefix)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintf(out, "saved %s\n", n)
		}
	}

	if runMetrics {
		return printMetrics(out, app)
	}
	return nil
}

func printResult(w io.Writer, r EvalResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "human":
	default:
		return errors.Errorf("unknown format %q", format)
	}

	for _, e := range r.Errors {
		if e.Line > 0 {
			fmt.Fprintf(w, "error: line %d: %s\n", e.Line, e.Message)
		} else if e.Group != "" {
			fmt.Fprintf(w, "error: %s: %s\n", e.Group, e.Message)
		} else {
			fmt.Fprintf(w, "error: %s\n", e.Message)
		}
	}
	for _, e := range r.Warnings {
		fmt.Fprintf(w, "warning: %s: %s\n", e.Group, e.Message)
	}
	for _, s := range r.Solves {
		fmt.Fprintf(w, "solve %-12s %-10s strategy=%s transform=%s satisfied=%d/%d",
			s.Group, s.Status, s.Strategy, s.Transform, s.Satisfied, s.Total)
		if s.Error != "" {
			fmt.Fprintf(w, " (%s)", s.Error)
		}
		fmt.Fprintln(w)
	}
	if r.Sketch != nil {
		fmt.Fprintf(w, "groups: %d\n", len(r.Groups))
	}
	return nil
}

func printMetrics(w io.Writer, app *App) error {
	families, err := app.Registry().Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s%s count=%d sum=%g\n", mf.GetName(), labels,
					m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}
	return nil
}
