package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	coreCmd := &cobra.Command{
		Use:   "core",
		Short: "Read or replace the core summary blob",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the core summary (empty if never set)",
		Run:   runCoreGet,
	}

	save := &cobra.Command{
		Use:   "save [text]",
		Short: "Replace the core summary wholesale",
		Long:  "Replace the entire core summary. Text can be a positional arg or piped via stdin.",
		Run:   runCoreSave,
	}

	coreCmd.AddCommand(get, save)
	RootCmd.AddCommand(coreCmd)
}

func runCoreGet(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	text, err := s.CoreGet()
	if err != nil {
		exitErr("core get", err)
	}
	fmt.Print(text)
}

func runCoreSave(cmd *cobra.Command, args []string) {
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = string(b)
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.CoreSave(text); err != nil {
		exitErr("core save", err)
	}
	fmt.Printf(`{"ok":true,"bytes":%d}`+"\n", len(text))
}
