package main

import (
	"fmt"

	"github.com/niclabs/cardmw/criptoki"
	"github.com/spf13/cobra"
)

func newInterfacesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interfaces",
		Short: "List the Cryptoki interfaces of the module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.module.GetInterfaceList(nil)
			if err != nil {
				return err
			}
			ifaces := make([]criptoki.Interface, n)
			if _, err := a.module.GetInterfaceList(ifaces); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, iface := range ifaces {
				v := iface.Version()
				def := ""
				if i == 0 {
					def = " (default)"
				}
				fmt.Fprintf(out, "%s %d.%02d flags=%#x%s\n", iface.Name, v.Major, v.Minor, iface.Flags, def)
			}
			return nil
		},
	}
}
