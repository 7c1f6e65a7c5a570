package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/franksops/gotransfer/config"
)

var log = logging.Logger("gxfer")

var (
	configPath string
	envFile    string
	debug      bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gxfer",
	Short: "Submit and track bulk transfers",
	Long: "gxfer groups transfer requests into jobs, submits them through a transfer tool " +
		"and polls the backend until they finish.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		level := "info"
		if debug {
			level = "debug"
		}
		if err := logging.SetLogLevel("*", level); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File of environment overrides")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
