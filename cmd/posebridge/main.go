// Command posebridge publishes tracker poses to the robot controller and
// executes the reset commands it sends back.
//
// Usage:
//
//	posebridge run [--config bridge.yaml] [--team 1234] [--candidate host:port]
//	posebridge candidates [--config bridge.yaml]
//	posebridge config
//	posebridge version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/posebridge/posebridge-go/pkg/config"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	team       int
	candidates []string
	noMDNS     bool
}

// load reads the configuration file, if any, and applies flag overrides.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if cmd.Flags().Changed("team") {
		cfg.Team = o.team
	}
	if len(o.candidates) > 0 {
		cfg.Candidates = append(append([]string{}, o.candidates...), cfg.Candidates...)
	}
	if o.noMDNS {
		cfg.MDNS.Enabled = false
	}
	return cfg, cfg.Validate()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "posebridge",
		Short: "Bridge a 6-DOF tracker to the robot controller",
		Long: `posebridge connects to the robot controller's pub/sub server, publishes
tracker frames and device health, and executes heading and pose resets
requested by robot code.

The controller is found from explicit candidates, the team number and mDNS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	pf.IntVarP(&opts.team, "team", "t", 0, "Team number (overrides the config file)")
	pf.StringSliceVar(&opts.candidates, "candidate", nil, "Controller address tried first (repeatable)")
	pf.BoolVar(&opts.noMDNS, "no-mdns", false, "Disable mDNS discovery")

	rootCmd.AddCommand(
		runCmd(opts),
		candidatesCmd(opts),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
