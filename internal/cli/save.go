package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [summary]",
		Short: "Save a memory",
		Long: "Save a memory. The summary is a positional arg; full text can be given\n" +
			"with --full-text or piped via stdin. Near-duplicate summaries at the same\n" +
			"level are skipped and the existing id is returned with created=false.",
		Args: cobra.MinimumNArgs(1),
		Run:  runSave,
	}

	cmd.Flags().IntP("level", "l", 0, "Abstraction level (0 = raw)")
	cmd.Flags().String("full-text", "", "Verbatim source text (or pipe via stdin)")
	cmd.Flags().StringP("topics", "t", "", "Comma-separated topic tags")
	cmd.Flags().StringP("keywords", "k", "", "Comma-separated search keywords")
	cmd.Flags().String("source", "", "Provenance: conversation, import, synthesis (default conversation)")
	cmd.Flags().String("parents", "", "Comma-separated parent memory ids")
	cmd.Flags().Float64("confidence", 1.0, "Confidence in [0,1]")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetInt("level")
	fullText, _ := cmd.Flags().GetString("full-text")
	topics, _ := cmd.Flags().GetString("topics")
	keywords, _ := cmd.Flags().GetString("keywords")
	source, _ := cmd.Flags().GetString("source")
	parents, _ := cmd.Flags().GetString("parents")

	if fullText == "" {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			fullText = strings.TrimSpace(string(b))
		}
	}

	p := store.SaveParams{
		Summary:   strings.Join(args, " "),
		FullText:  fullText,
		Level:     level,
		Topics:    parseCSV(topics),
		Keywords:  parseCSV(keywords),
		Source:    source,
		ParentIDs: parseCSV(parents),
	}
	if cmd.Flags().Changed("confidence") {
		c, _ := cmd.Flags().GetFloat64("confidence")
		p.Confidence = &c
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	mem, created, err := s.Save(cmd.Context(), p)
	if err != nil {
		exitErr("save", err)
	}

	fmt.Printf(`{"id":%q,"created":%v,"level":%d}`+"\n", mem.ID, created, mem.Level)
}
