package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-shares/internal/cli"
	"github.com/gezibash/arc-shares/internal/config"

	// Register share backends.
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/badger"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/fs"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/memory"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/redis"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/s3"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/seaweedfs"
	_ "github.com/gezibash/arc-shares/internal/sharestore/physical/sqlite"
)

func main() {
	err := newRootCmd(viper.New()).ExecuteContext(context.Background())
	if err != nil {
		var reported *cli.ReportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	os.Exit(cli.ExitCode(err))
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arc-shares",
		Short: "Sharded share container storage",
		Long: `arc-shares stores erasure-coded share containers keyed by storage index.

Storage indices are 16 bytes written as 26 lowercase base-32 characters.
Shares live at <bucket>/<storage index>/<share number>, where the bucket is
the first two characters of the index.

Codec commands:
  arc-shares encode <hex>             Encode bytes as a storage index
  arc-shares decode <si>              Decode a storage index to hex
  arc-shares path <si>                Show the sharded path of an index

Store commands:
  arc-shares put <si> <shnum> <file>  Store a share container
  arc-shares get <si> <shnum>         Read a share container
  arc-shares ls <si>                  List share numbers of an index
  arc-shares rm <si> [shnum]          Remove a share or a whole index
  arc-shares resolve <prefix>         Resolve an index prefix
  arc-shares stats                    Backend statistics
  arc-shares serve                    HTTP share API, /metrics and /health`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(
		newEncodeCmd(v),
		newDecodeCmd(v),
		newPathCmd(v),
		newPutCmd(v),
		newGetCmd(v),
		newLsCmd(v),
		newRmCmd(v),
		newResolveCmd(v),
		newStatsCmd(v),
		newBackendsCmd(v),
		newServeCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}

// commandConfig fills the parts of cli.CommandConfig every store command
// shares.
func commandConfig(cmd *cobra.Command, v *viper.Viper, name string, run func(context.Context, *cli.Env) error) cli.CommandConfig {
	configFile, _ := cmd.Flags().GetString("config")
	return cli.CommandConfig{
		Name:       name,
		Viper:      v,
		ConfigFile: configFile,
		Stdout:     cmd.OutOrStdout(),
		Run:        run,
	}
}

func output(cmd *cobra.Command, v *viper.Viper) *cli.Output {
	return cli.NewOutput(cli.ParseFormat(v.GetString("output")), cmd.OutOrStdout())
}
