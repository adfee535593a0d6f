package main

import (
	"fmt"
	"strings"

	"github.com/miekg/pkcs11"
	"github.com/spf13/cobra"
)

func newSlotsCmd(a *app) *cobra.Command {
	var present bool
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List slots and tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listSlots(cmd, present)
		},
	}
	cmd.Flags().BoolVar(&present, "present", false, "only list slots with a token")
	return cmd
}

func (a *app) listSlots(cmd *cobra.Command, present bool) error {
	out := cmd.OutOrStdout()
	ids, err := a.module.GetSlotList(present)
	if err != nil {
		return fmt.Errorf("failed to list slots: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No slots found.")
		return nil
	}
	for _, id := range ids {
		info, err := a.module.GetSlotInfo(id)
		if err != nil {
			return fmt.Errorf("failed to describe slot %d: %w", id, err)
		}
		fmt.Fprintf(out, "Slot %d:\n", id)
		fmt.Fprintf(out, "  Description:  %s\n", strings.TrimSpace(info.SlotDescription))
		if info.Flags&pkcs11.CKF_TOKEN_PRESENT == 0 {
			fmt.Fprintf(out, "  Token:        (not present)\n\n")
			continue
		}
		token, err := a.module.GetTokenInfo(id)
		if err != nil {
			return fmt.Errorf("failed to describe token of slot %d: %w", id, err)
		}
		mechs, err := a.module.GetMechanismList(id)
		if err != nil {
			return fmt.Errorf("failed to list mechanisms of slot %d: %w", id, err)
		}
		fmt.Fprintf(out, "  Token Label:  %s\n", strings.TrimSpace(token.Label))
		fmt.Fprintf(out, "  Token Serial: %s\n", strings.TrimSpace(token.SerialNumber))
		fmt.Fprintf(out, "  Mechanisms:   %d\n\n", len(mechs))
	}
	return nil
}
