package cli

import (
	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update fields of a memory",
		Long:  "Apply field changes to an existing memory. Level is immutable.",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("summary", "", "New summary")
	cmd.Flags().String("full-text", "", "New full text (empty string clears it)")
	cmd.Flags().StringP("topics", "t", "", "New comma-separated topics (replaces)")
	cmd.Flags().StringP("keywords", "k", "", "New comma-separated keywords (replaces)")
	cmd.Flags().Float64("confidence", 1.0, "New confidence in [0,1]")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	p := store.UpdateParams{ID: args[0]}

	if cmd.Flags().Changed("summary") {
		v, _ := cmd.Flags().GetString("summary")
		p.Summary = &v
	}
	if cmd.Flags().Changed("full-text") {
		v, _ := cmd.Flags().GetString("full-text")
		p.FullText = &v
	}
	if cmd.Flags().Changed("topics") {
		v, _ := cmd.Flags().GetString("topics")
		p.Topics = parseCSV(v)
	}
	if cmd.Flags().Changed("keywords") {
		v, _ := cmd.Flags().GetString("keywords")
		p.Keywords = parseCSV(v)
	}
	if cmd.Flags().Changed("confidence") {
		v, _ := cmd.Flags().GetFloat64("confidence")
		p.Confidence = &v
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	mem, err := s.Update(cmd.Context(), p)
	if err != nil {
		exitErr("update", err)
	}

	printJSON(mem)
}
