package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/chazu/sketchgraph/pkg/record"
)

var showGeneration string

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a stored group record as text",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().StringVar(&showGeneration, "generation", "", "Text generation (inline, dictionary); default: as stored")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	app, log, err := newApp()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := app.OpenStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.Get(args[0])
	if errors.Is(err, record.ErrPlaceholder) {
		raw, rerr := st.Raw(args[0])
		if rerr != nil {
			return rerr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: written by a newer version (%d bytes)\n", args[0], len(raw))
		return nil
	}
	if err != nil {
		return err
	}

	gen := rec.Generation
	if showGeneration != "" {
		if gen, err = record.ParseGeneration(showGeneration); err != nil {
			return err
		}
	}
	text, err := record.EncodeText(rec.State, gen)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(text)
	return err
}
