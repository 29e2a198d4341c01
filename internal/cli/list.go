package cli

import (
	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Run:   runList,
	}

	cmd.Flags().Int("level", -1, "Filter by level (-1 = all)")
	cmd.Flags().IntP("limit", "l", 50, "Max results")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetInt("level")
	limit, _ := cmd.Flags().GetInt("limit")

	p := store.ListParams{Limit: limit}
	if level >= 0 {
		p.Level = &level
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	memories, err := s.List(cmd.Context(), p)
	if err != nil {
		exitErr("list", err)
	}

	printJSON(memories)
}
