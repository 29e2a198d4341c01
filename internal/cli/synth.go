package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stratamem/strata/internal/store"
)

func init() {
	synthCmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesis bookkeeping: candidates, pre-merge, commit, readiness",
	}

	candidates := &cobra.Command{
		Use:   "candidates",
		Short: "Group unsynthesized memories by shared topic",
		Run:   runSynthCandidates,
	}
	candidates.Flags().IntP("level", "l", 0, "Level to scan")

	prepare := &cobra.Command{
		Use:   "prepare",
		Short: "Merge near-duplicates, then return candidate groups",
		Run:   runSynthPrepare,
	}
	prepare.Flags().IntP("level", "l", 0, "Level to scan")

	commit := &cobra.Command{
		Use:   "commit [summary]",
		Short: "Record a synthesis result over the given parents",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSynthCommit,
	}
	commit.Flags().StringP("parents", "p", "", "Comma-separated parent ids (required, one shared level)")
	commit.Flags().StringP("topics", "t", "", "Comma-separated topic tags")
	commit.Flags().StringP("keywords", "k", "", "Comma-separated keywords")
	commit.Flags().Bool("delete-parents", false, "Remove parents after linking (default keeps them for drill-down)")
	commit.MarkFlagRequired("parents")

	needed := &cobra.Command{
		Use:   "needed",
		Short: "Check whether enough unsynthesized level-0 memories accumulated",
		Run:   runSynthNeeded,
	}
	needed.Flags().Int("threshold", store.DefaultSynthesisThreshold, "Unsynthesized level-0 count that triggers synthesis")

	synthCmd.AddCommand(candidates, prepare, commit, needed)
	RootCmd.AddCommand(synthCmd)
}

func runSynthCandidates(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetInt("level")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	groups, err := s.SynthesisCandidates(cmd.Context(), level)
	if err != nil {
		exitErr("synth candidates", err)
	}

	if len(groups) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(groups)
}

func runSynthPrepare(cmd *cobra.Command, args []string) {
	level, _ := cmd.Flags().GetInt("level")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	merged, groups, err := s.PrepareSynthesis(cmd.Context(), level)
	if err != nil {
		exitErr("synth prepare", err)
	}

	printJSON(struct {
		DuplicatesMerged int                    `json:"duplicates_merged"`
		Groups           []store.CandidateGroup `json:"groups"`
	}{merged, groups})
}

func runSynthCommit(cmd *cobra.Command, args []string) {
	parents, _ := cmd.Flags().GetString("parents")
	topics, _ := cmd.Flags().GetString("topics")
	keywords, _ := cmd.Flags().GetString("keywords")
	deleteParents, _ := cmd.Flags().GetBool("delete-parents")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	mem, err := s.Synthesize(cmd.Context(), store.SynthesizeParams{
		ParentIDs:     parseCSV(parents),
		Summary:       strings.Join(args, " "),
		Topics:        parseCSV(topics),
		Keywords:      parseCSV(keywords),
		DeleteParents: deleteParents,
	})
	if err != nil {
		exitErr("synth commit", err)
	}

	printJSON(mem)
}

func runSynthNeeded(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetInt("threshold")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	needed, count, err := s.SynthesisNeeded(cmd.Context(), threshold)
	if err != nil {
		exitErr("synth needed", err)
	}

	fmt.Printf(`{"needed":%v,"unsynthesized":%d,"threshold":%d}`+"\n", needed, count, threshold)
}
