package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dinvlad/jade-data-repo/internal/common"
	commonconfig "github.com/dinvlad/jade-data-repo/internal/common/config"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/configuration"
)

const (
	CustomConfigLocation string = "config"
	defaultConfigPath    string = "./config/datarepo"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "datarepo",
		SilenceUsage: true,
		Short:        "Bulk file ingest into collection namespaces",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		loadCmd(),
		migrateDbCmd(),
		fsCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(&config, defaultConfigPath, userSpecifiedConfigs)

	err := config.Validate()
	if err != nil {
		commonconfig.LogValidationErrors(err)
	}
	return config, err
}
