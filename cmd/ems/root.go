package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ems.org/internal/config"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
	bindings   map[*cobra.Command][]flagBinding
}

// flagBinding maps a command-line flag onto a config key. Bindings are
// applied only for the command being run, so commands may share flag names.
type flagBinding struct {
	key, flag string
}

func newRootOptions() *rootOptions {
	return &rootOptions{v: config.NewViper(), bindings: map[*cobra.Command][]flagBinding{}}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(newRootOptions())
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ems",
		Short:         "Employee management services",
		Long:          `ems runs the gateway, auth service and employee service, and manages the employee schema.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version + " (" + commit + ")",
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./ems.yaml or /etc/ems/ems.yaml)")

	cmd.AddCommand(
		gatewayCmd(opts),
		authServiceCmd(opts),
		employeeServiceCmd(opts),
		devCmd(opts),
		migrateCmd(opts),
		hashPasswordCmd(),
	)
	return cmd
}

// load binds the flags of cmd and its parents, then reads the config.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	for c := cmd; c != nil; c = c.Parent() {
		for _, b := range o.bindings[c] {
			f := cmd.Flags().Lookup(b.flag)
			if f == nil {
				f = c.PersistentFlags().Lookup(b.flag)
			}
			if err := o.v.BindPFlag(b.key, f); err != nil {
				return config.Config{}, err
			}
		}
	}
	return config.Load(o.v, o.configFile)
}

// bindFlag exposes key as a command-line flag that overrides file and env.
func (o *rootOptions) bindFlag(cmd *cobra.Command, key, flag, usage string) {
	cmd.Flags().String(flag, "", usage)
	o.bindings[cmd] = append(o.bindings[cmd], flagBinding{key: key, flag: flag})
}

// bindPersistentFlag is bindFlag for a flag inherited by subcommands.
func (o *rootOptions) bindPersistentFlag(cmd *cobra.Command, key, flag, usage string) {
	cmd.PersistentFlags().String(flag, "", usage)
	o.bindings[cmd] = append(o.bindings[cmd], flagBinding{key: key, flag: flag})
}
