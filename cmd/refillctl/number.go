package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/projectrefill/refill-backend/internal/numbering"
)

func newNumberCmd(open opener) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "number",
		Short: "Show the last business number issued for a prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix = strings.TrimSpace(prefix)
			if prefix == "" {
				return fmt.Errorf("--prefix is required")
			}
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			seq, err := numbering.NewService().Current(cmd.Context(), rt.db.DB(), prefix)
			if err != nil {
				return err
			}
			if seq.Value == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no numbers issued\n", prefix)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), numbering.Format(seq.Prefix, seq.Period, seq.Value))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "business number prefix, e.g. DIST or TXN")
	return cmd
}
