package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfgcmd "github.com/xia2/xia2-sub002/internal/cmd/config"
	"github.com/xia2/xia2-sub002/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "xscale",
	Short: "Multi-sweep scaling and merging of integrated diffraction data",
	Long: `xscale brings integrated sweeps from one crystal to a consistent
symmetry and indexing, scales them together, chooses the resolution limit
of every dataset and writes merged amplitudes with a free-R set.

External programs do the crystallographic work; xscale decides what to run
and in which order.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/xscale/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	cfgcmd.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("XSCALE")
	// e.g. XSCALE_SCALER_ISIGMA_CUTOFF for scaler.isigma_cutoff
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
