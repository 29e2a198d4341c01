package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memory drafts from JSON",
		Long: "Import a JSON array of memory drafts from stdin. Each item gets save\n" +
			"semantics: items dedupe against the store and against earlier items in the\n" +
			"batch, and an invalid item is reported without aborting the rest.",
		Run: runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var items []store.SaveParams
	if err := json.Unmarshal(data, &items); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Import(cmd.Context(), items)
	if err != nil {
		exitErr("import", err)
	}

	printJSON(results)
}
