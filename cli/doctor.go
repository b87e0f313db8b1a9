package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that provider CLIs are installed",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTOOL\tSTATUS\tVERSION")

	for _, provider := range []string{"anthropic", "openai", "local"} {
		prereq, _ := prerequisiteFor(provider)
		result := Check(prereq)
		status := "missing"
		if result.Found {
			status = "ok"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", provider, prereq.Name, status, result.Version)
	}
	return w.Flush()
}
