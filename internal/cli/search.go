package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by keyword",
		Long: "Ranked search over summaries and keywords. Higher abstraction levels rank\n" +
			"first among comparably relevant results; drill down with get.",
		Args: cobra.MinimumNArgs(1),
		Run:  runSearch,
	}

	cmd.Flags().Int("min-level", 0, "Only include memories at this level or above")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	minLevel, _ := cmd.Flags().GetInt("min-level")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Search(cmd.Context(), store.SearchParams{
		Query:    strings.Join(args, " "),
		MinLevel: minLevel,
		Limit:    limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
