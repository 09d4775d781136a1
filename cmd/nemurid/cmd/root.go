package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "nemurid",
	Short: "Stateful session cache with passivation",
	Long:  "nemurid keeps conversational state in memory and passivates idle sessions to disk or S3-compatible storage.",
}

// Execute はルートコマンドを実行します。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/nemuri/config.yaml)")
	rootCmd.PersistentFlags().String("storage-dir", "", "directory for passivated state (default: ~/.local/share/nemuri)")
	rootCmd.PersistentFlags().Bool("compression", true, "zstd-compress passivated records")

	_ = viper.BindPFlag("storage_dir", rootCmd.PersistentFlags().Lookup("storage-dir"))
	_ = viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NEMURI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	_ = viper.ReadInConfig()
}

func setDefaults() {
	viper.SetDefault("name", "nemuri")
	viper.SetDefault("storage_dir", defaultStorageDir())
	viper.SetDefault("session_timeout", 5*time.Minute)
	viper.SetDefault("sweep_interval", time.Second)
	viper.SetDefault("longevity_timeout", time.Duration(0))
	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("compression_level", 2)
	viper.SetDefault("checkout_workers", 4)
	viper.SetDefault("tax_basis_points", 1000)
	viper.SetDefault("minio.bucket", "nemuri")
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nemuri")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "nemuri")
	}
	return ".nemuri"
}

func defaultStorageDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "nemuri")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "nemuri")
	}
	return ".nemuri"
}
