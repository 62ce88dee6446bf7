package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the records in the store",
	Args:  cobra.NoArgs,
	RunE:  runRecords,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete records from the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	recordsCmd.AddCommand(recordsDeleteCmd)
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
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

	entries, err := st.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tGENERATION\tNODES\tBYTES")
	for _, e := range entries {
		switch {
		case e.Err != nil:
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%d\tunreadable: %v\n", e.Name, e.Size, e.Err)
		case e.Placeholder:
			fmt.Fprintf(tw, "%s\tnewer\t-\t-\t%d\n", e.Name, e.Size)
		default:
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\n", e.Name, e.Version, e.Generation, e.Nodes, e.Size)
		}
	}
	return tw.Flush()
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
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

	for _, name := range args {
		if err := st.Delete(name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
	}
	return nil
}
