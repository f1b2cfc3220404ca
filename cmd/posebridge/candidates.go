package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/posebridge/posebridge-go/pkg/config"
)

func candidatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates",
		Short: "List the static controller addresses in connection order",
		Long: `candidates prints the addresses the supervisor tries before anything
discovered over mDNS: explicit candidates, then the team address, the USB
address and the team hostnames.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, addr := range cfg.StaticCandidates() {
				fmt.Fprintf(out, "%2d  %s\n", i+1, addr)
			}
			if cfg.MDNS.Enabled {
				fmt.Fprintln(out, "    + mDNS (_ni._tcp)")
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
