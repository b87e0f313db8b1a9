package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls", "list"},
	Short:   "List saved sessions",
	Args:    cobra.NoArgs,
	RunE:    runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}

	metas, err := m.Records()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("no saved sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROJECT\tCLOSED\tTODOS\tSIZE")
	for _, meta := range metas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			meta.ID,
			meta.Name,
			meta.ProjectPath,
			meta.ClosedAt.Local().Format("2006-01-02 15:04"),
			formatTodos(meta.TodosDone, meta.TodosTotal),
			formatSize(meta.SizeBytes),
		)
	}
	return w.Flush()
}

func formatTodos(done, total int) string {
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", done, total)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
