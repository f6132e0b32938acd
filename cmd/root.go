package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hashfleet/wagateway/pkg/utils"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wagateway",
	Short: "Multi-tenant WhatsApp worker gateway",
	Long: `Gateway that registers WhatsApp instances, supervises one worker
process per instance, and proxies the public API to the right worker.`,
}

func init() {
	// .env overlay first so viper's AutomaticEnv sees the values.
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()
}

func initFlags() {
	flags := rootCmd.PersistentFlags()

	flags.StringP("port", "p", "3000", "API listen port | example: --port=3000")
	flags.BoolP("debug", "d", false, "enable debug logging | example: --debug=true")
	flags.String("admin-user", "admin", "basic auth user for the API and the workers")
	flags.String("admin-pass", "admin", "basic auth password for the API and the workers")
	flags.String("base-dir", "", "install root holding bin/, sessions/ and the gateway database")
	flags.String("sessions-dir", "", "override the per-instance session directory")
	flags.String("bin-path", "", "path to the worker binary")
	flags.String("db-driver", "sqlite", "gateway database driver (sqlite or postgres)")
	flags.Int("rate-limit", 100, "API requests allowed per IP per 15 minutes")

	mustBind := func(key, flag string) {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			logrus.Fatalf("[CMD] Failed to bind flag %s: %v", flag, err)
		}
	}

	mustBind("api_port", "port")
	mustBind("app_debug", "debug")
	mustBind("default_admin_user", "admin-user")
	mustBind("default_admin_pass", "admin-pass")
	mustBind("app_base_dir", "base-dir")
	mustBind("sessions_dir", "sessions-dir")
	mustBind("bin_path", "bin-path")
	mustBind("db_driver", "db-driver")
	mustBind("api_rate_limit", "rate-limit")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
