package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-shares/internal/cli"
	"github.com/gezibash/arc-shares/internal/container"
	"github.com/gezibash/arc-shares/internal/sharestore"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

// resolveIndex accepts a full storage index or a unique prefix of one.
func resolveIndex(ctx context.Context, store *sharestore.ShareStore, arg string) (storageindex.StorageIndex, error) {
	if len(arg) == storageindex.EncodedLen {
		return storageindex.Parse(arg)
	}
	return store.ResolvePrefix(ctx, arg)
}

func newPutCmd(v *viper.Viper) *cobra.Command {
	var mutable bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "put <si> <shnum> <file>",
		Short: "Store a share container",
		Long: `Store the contents of a file as share <shnum> of storage index <si>.
Use "-" to read from stdin. Containers larger than the configured
max_container_size are rejected and nothing is stored.

Examples:
  arc-shares put aaisem2ekvthpcezvk54zxpo74 0 share.0
  arc-shares put aaisem2ekvthpcezvk54zxpo74 1 - --mutable < share.1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := commandConfig(cmd, v, "share-put", func(ctx context.Context, env *cli.Env) error {
				si, err := storageindex.Parse(args[0])
				if err != nil {
					return cli.Fail(env.Out, "share-put", err)
				}
				num, err := parseShareNum(args[1])
				if err != nil {
					return cli.Fail(env.Out, "share-put", err)
				}
				data, err := readInput(cmd.InOrStdin(), args[2])
				if err != nil {
					return fmt.Errorf("read %s: %w", args[2], err)
				}

				layout := container.Immutable
				if mutable {
					layout = container.Mutable
				}
				if err := env.Store.WriteShare(ctx, si, num, layout, data); err != nil {
					return cli.Fail(env.Out, "share-put", err)
				}
				return env.Out.Result("share-put", "share stored").
					With("si", si).
					With("shnum", num).
					With("layout", layout.String()).
					With("size", humanize.IBytes(uint64(container.EncodedSize(len(data))))).
					Render()
			})
			cfg.Timeout = timeout
			return cli.RunCommand(cmd.Context(), cfg)
		},
	}

	cmd.Flags().BoolVar(&mutable, "mutable", false, "store as a mutable container")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	var outputFile string
	var info bool

	cmd := &cobra.Command{
		Use:   "get <si> <shnum>",
		Short: "Read a share container",
		Long: `Read share <shnum> of a storage index. The index may be given as a
unique prefix of at least four characters.

Share data is written raw to stdout unless --file or --info is given.

Examples:
  arc-shares get aaisem2ekvthpcezvk54zxpo74 0 > share.0
  arc-shares get aaire 0 -f share.0
  arc-shares get aaire 0 --info -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), commandConfig(cmd, v, "share-get", func(ctx context.Context, env *cli.Env) error {
				si, err := resolveIndex(ctx, env.Store, args[0])
				if err != nil {
					return cli.Fail(env.Out, "share-get", err)
				}
				num, err := parseShareNum(args[1])
				if err != nil {
					return cli.Fail(env.Out, "share-get", err)
				}
				c, err := env.Store.ReadShare(ctx, si, num)
				if err != nil {
					return cli.Fail(env.Out, "share-get", err)
				}

				if outputFile == "" && !info {
					_, err = env.Out.Writer().Write(c.Data)
					return err
				}
				if outputFile != "" {
					if err := os.WriteFile(outputFile, c.Data, 0o600); err != nil {
						return fmt.Errorf("write file: %w", err)
					}
				}
				kv := env.Out.KV("share-get").
					Set("Storage Index", si).
					Set("Share", num).
					Set("Layout", c.Layout.String()).
					Set("Version", c.Version).
					Set("Size", len(c.Data))
				if outputFile != "" {
					kv.Set("Output", outputFile)
				}
				return kv.Render()
			}))
		},
	}

	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&info, "info", false, "print container metadata instead of data")
	return cmd
}

func newLsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <si>",
		Short: "List the shares held for a storage index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), commandConfig(cmd, v, "share-ls", func(ctx context.Context, env *cli.Env) error {
				si, err := resolveIndex(ctx, env.Store, args[0])
				if err != nil {
					return cli.Fail(env.Out, "share-ls", err)
				}
				nums, err := env.Store.ListShares(ctx, si)
				if err != nil {
					return cli.Fail(env.Out, "share-ls", err)
				}
				tbl := env.Out.Table("share-ls", "Share", "Path")
				for _, n := range nums {
					tbl.AddRow(strconv.Itoa(int(n)), physical.ShareKey{Index: si, Num: n}.Path())
				}
				return tbl.Render()
			}))
		},
	}
}

func newRmCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <si> [shnum]",
		Short: "Remove a share, or every share of a storage index",
		Long: `Remove share <shnum> of a storage index, or all of its shares when no
share number is given. Removing a missing share is not an error.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), commandConfig(cmd, v, "share-rm", func(ctx context.Context, env *cli.Env) error {
				si, err := resolveIndex(ctx, env.Store, args[0])
				if err != nil {
					return cli.Fail(env.Out, "share-rm", err)
				}
				if len(args) == 1 {
					n, err := env.Store.DeleteIndex(ctx, si)
					if err != nil {
						return cli.Fail(env.Out, "share-rm", err)
					}
					return env.Out.Result("share-rm", "index removed").With("si", si).With("shares", n).Render()
				}

				num, err := parseShareNum(args[1])
				if err != nil {
					return cli.Fail(env.Out, "share-rm", err)
				}
				if err := env.Store.DeleteShare(ctx, si, num); err != nil {
					return cli.Fail(env.Out, "share-rm", err)
				}
				return env.Out.Result("share-rm", "share removed").With("si", si).With("shnum", num).Render()
			}))
		},
	}
}

func newResolveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <prefix>",
		Short: "Resolve a storage index prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), commandConfig(cmd, v, "share-resolve", func(ctx context.Context, env *cli.Env) error {
				si, err := env.Store.ResolvePrefix(ctx, args[0])
				if err != nil {
					return cli.Fail(env.Out, "share-resolve", err)
				}
				return env.Out.KV("share-resolve").
					Set("Storage Index", si).
					Set("Path", storageindex.PathFor(si).Rel()).
					Render()
			}))
		},
	}
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show backend statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), commandConfig(cmd, v, "share-stats", func(ctx context.Context, env *cli.Env) error {
				stats, err := env.Store.Stats(ctx)
				if err != nil {
					return cli.Fail(env.Out, "share-stats", err)
				}
				return env.Out.KV("share-stats").
					Set("Backend", stats.BackendType).
					Set("Shares", stats.ShareCount).
					Set("Size", humanize.IBytes(uint64(stats.SizeBytes))).
					Set("Max Container Size", humanize.IBytes(uint64(env.Store.MaxContainerSize()))).
					Render()
			}))
		},
	}
}

func newBackendsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the available share backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return output(cmd, v).StringList("backends").Add(physical.ListBackends()...).Render()
		},
	}
}
