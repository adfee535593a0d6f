// Command cardmw runs the middleware over the virtual cards of its
// configuration: it lists slots and interfaces, generates keys, signs and
// serves the Prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/niclabs/cardmw/core"
	"github.com/niclabs/cardmw/criptoki"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is the state shared by the commands of one run.
type app struct {
	configFile string

	conf   *core.Config
	env    *core.Environment
	module *criptoki.Module
	dirty  bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cardmw",
		Short: "PKCS#11 middleware over smart cards",
		Long: `cardmw drives the criptoki module over the readers of its configuration.

Examples:
  # List the slots and their tokens
  cardmw slots

  # Generate an RSA key on the token in the first reader
  cardmw keygen --token alpha --type rsa --bits 2048 --label signing --id 4401

  # Sign a file
  cardmw sign --slot 0 --pin 648219 --label signing --mechanism sha256-rsa-pkcs document.txt`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: config.* in /etc/cardmw, $HOME/.cardmw or ./)")
	flags.Bool("verbose", false, "log to stderr as well")
	flags.String("log-file", "", "log file")
	_ = viper.BindPFlag("logging.verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("logging.file", flags.Lookup("log-file"))

	root.AddCommand(
		newSlotsCmd(a),
		newInterfacesCmd(a),
		newKeygenCmd(a),
		newSignCmd(a),
		newServeMetricsCmd(a),
	)
	return root
}

// setup loads the configuration, creates the readers and initializes the
// module.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	conf, err := core.LoadConfig(a.configFile)
	if err != nil {
		return err
	}
	if _, err := core.InitLogger(conf.Logging); err != nil {
		return err
	}
	env, err := core.NewEnvironment(conf)
	if err != nil {
		return err
	}
	m, err := env.Module(conf.Criptoki)
	if err != nil {
		env.Close()
		return err
	}
	if err := m.Initialize(&criptoki.InitArgs{}); err != nil {
		env.Close()
		return err
	}
	a.conf, a.env, a.module = conf, env, m
	return nil
}

// teardown finalizes the module and saves the cards when a command
// changed them.
func (a *app) teardown() error {
	if a.module == nil {
		return nil
	}
	if err := a.module.Finalize(); err != nil {
		return err
	}
	if a.dirty {
		if err := a.env.Save(); err != nil {
			return err
		}
	}
	return a.env.Close()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
