package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smtsim/pfsim/config"
	"github.com/smtsim/pfsim/driver"
)

type configFlags struct {
	path      string
	envFile   string
	overrides map[string]string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "",
		"YAML configuration file")
	cmd.Flags().StringVar(&f.envFile, "env", "",
		"dotenv file of overrides, keys like streambuf.n_streams")
	cmd.Flags().StringToStringVar(&f.overrides, "set", nil,
		"override a key, e.g. --set sim.cores=4")
}

// load builds the simulation config from the defaults, the YAML file, the
// dotenv file and the --set overrides, in that order.
func (f *configFlags) load() (driver.SimConfig, error) {
	tree := config.NewTree()

	if f.path != "" {
		var err error
		if tree, err = config.LoadYAML(f.path); err != nil {
			return driver.SimConfig{}, err
		}
	}

	if f.envFile != "" {
		if err := tree.ApplyDotenv(f.envFile); err != nil {
			return driver.SimConfig{}, err
		}
	}

	tree.ApplyOverrides(f.overrides)

	return driver.SimConfigFromTree(tree)
}

func newCheckConfigCmd(a *app) *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration and print it fully resolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}

			cmd.Printf("%s", data)
			cmd.Println("config OK")

			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
