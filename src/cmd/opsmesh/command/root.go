package command

import (
	"fmt"
	"os"

	"github.com/opsmesh/opsmesh/src/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	conf    *config.Config
	datadir *string
	logDir  *string
)

func init() {
	conf = config.NewDefaultConfig()

	cobra.OnInitialize(initConfig)

	// Base datadir
	datadir = rootCmd.PersistentFlags().StringP("datadir", "d", conf.DataDir, "Base configuration directory")

	// Listen addresses
	rootCmd.PersistentFlags().StringP("listen", "l", conf.BindAddr, "Listen IP:Port for gossip")
	rootCmd.PersistentFlags().StringP("service-listen", "s", conf.ServiceAddr, "HTTP service listen IP:Port")
	rootCmd.PersistentFlags().Bool("no-service", conf.NoService, "Disable the HTTP service")

	// Various
	rootCmd.PersistentFlags().Bool("enabled", conf.Enabled, "Participate in the collective")
	rootCmd.PersistentFlags().String("moniker", conf.Moniker, "Friendly name of this node")
	rootCmd.PersistentFlags().String("log", conf.LogLevel, "Log level (debug, info, warn, error, fatal, panic)")
	logDir = rootCmd.PersistentFlags().String("log-dir", "", "Directory for per-level log files (empty disables file logging)")
	rootCmd.PersistentFlags().Bool("store", conf.Store, "Use a persistent Badger DB for the consensus history")
	rootCmd.PersistentFlags().Int("history-limit", conf.HistoryLimit, "Max completed consensus records kept in memory")

	// Intervals
	rootCmd.PersistentFlags().Duration("heartbeat", conf.HeartbeatInterval, "Time between liveness announcements")
	rootCmd.PersistentFlags().Duration("empathy-sync", conf.EmpathySyncInterval, "Time between wellbeing broadcasts")
	rootCmd.PersistentFlags().Duration("peer-retention", conf.PeerRetention, "How long to keep disconnected peers (0 = forever)")

	// Remediation policy
	rootCmd.PersistentFlags().Bool("auto-remediation", conf.AutoRemediation, "Apply network-approved remediations automatically")
}

func initConfig() {
	viper.AddConfigPath(*datadir)
	viper.SetConfigName("opsmesh")

	viper.BindPFlags(rootCmd.PersistentFlags())

	if err := viper.ReadInConfig(); err != nil {
		conf.Logger().Warn(err, ". Taking cli or default.")
	}

	if err := viper.Unmarshal(conf); err != nil {
		conf.Logger().Warn(err, ". Taking cli or default.")
	}

	conf.SetDataDir(*datadir)
}

var rootCmd = &cobra.Command{
	Use:   "opsmesh",
	Short: "Opsmesh distributed trust and consensus node",
	Long:  "Opsmesh distributed trust and consensus node",
}

func init() {
	rootCmd.AddCommand(
		newRunCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)

		os.Exit(1)
	}
}
