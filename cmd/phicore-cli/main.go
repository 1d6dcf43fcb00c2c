// Command phicore-cli is the operator tool for tuple administration, KMS
// key operations, and replica/sync inspection.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"phicore/internal/config"
)

var (
	log     = logrus.New()
	envName string
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "phicore-cli",
		Short: "operator CLI for the phicore authorization and data-protection core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(envName)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			level, err := logrus.ParseLevel(cfg.Logging.Level)
			if err != nil {
				level = logrus.InfoLevel
			}
			log.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envName, "env", "", "configuration environment overlay (e.g. production)")

	root.AddCommand(tupleCmd())
	root.AddCommand(kmsCmd())
	root.AddCommand(replicaCmd())
	root.AddCommand(syncCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
