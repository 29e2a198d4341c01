package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a memory",
		Long:  "Delete a memory and repair hierarchy edges on its parents and children.",
		Run:   runRm,
	}

	cmd.Flags().Bool("all", false, "Delete every memory (irreversible)")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if all {
		n, err := s.DeleteAll(cmd.Context())
		if err != nil {
			exitErr("rm", err)
		}
		fmt.Printf(`{"ok":true,"deleted":%d}`+"\n", n)
		return
	}

	if len(args) != 1 {
		exitErr("rm", fmt.Errorf("exactly one id required (or --all)"))
	}
	if err := s.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("rm", err)
	}
	fmt.Printf(`{"ok":true,"id":%q}`+"\n", args[0])
}
