package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "refillctl",
		Short:         "Operate the refill inventory ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newReconcileCmd(open),
		newVerifyCmd(open),
		newNumberCmd(open),
		newMigrateCmd(open),
		newOutboxCmd(open),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
