package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeney/asterisk-ledger/internal/correlator"
	"github.com/sweeney/asterisk-ledger/internal/phone"
	"github.com/sweeney/asterisk-ledger/internal/store"
)

func lookupCmd() *cobra.Command {
	var destination bool
	cmd := &cobra.Command{
		Use:   "lookup <number>",
		Short: "Show how a number is normalized and displayed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := store.Open(ctx, cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			norm := phone.NewNormalizer(phone.Rules{
				ExtensionPrefix: cfg.PBX.ExtensionPrefix,
				TrunkDigits:     cfg.PBX.TrunkDigits,
				MinStripLength:  cfg.PBX.MinStripLength,
			}, st.HasContact)

			normalize := norm.Caller
			if destination {
				normalize = norm.Destination
			}
			res, err := normalize(ctx, args[0])
			if err != nil {
				return fmt.Errorf("normalizing %s: %w", args[0], err)
			}

			var contact *store.Contact
			if res.Kind != phone.KindBlank {
				if contact, err = st.FindContact(ctx, res.Number); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Number:   %s\n", res.Number)
			fmt.Fprintf(out, "Kind:     %s\n", res.Kind)
			fmt.Fprintf(out, "Stripped: %t\n", res.Stripped)
			fmt.Fprintf(out, "Display:  %s\n", correlator.DisplayIdentity(res.Number, res.Kind, contact))
			return nil
		},
	}
	cmd.Flags().BoolVar(&destination, "destination", false, "normalize as a dialled destination instead of a caller")
	return cmd
}
