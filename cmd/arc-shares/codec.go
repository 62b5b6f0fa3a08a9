package main

import (
	"encoding/hex"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-shares/internal/cli"
	"github.com/gezibash/arc-shares/internal/sharestore/physical"
	"github.com/gezibash/arc-shares/pkg/storageindex"
)

func newEncodeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <hex>",
		Short: "Encode hex bytes as base-32 text",
		Long: `Encode bytes, given as hex, in the lowercase unpadded base-32 form used
for storage indices. Any length is accepted; 16 bytes make a storage index.

Examples:
  arc-shares encode 00112233445566778899aabbccddeeff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output(cmd, v)
			raw, err := hex.DecodeString(args[0])
			if err != nil {
				return cli.Fail(out, "encode", &storageindex.DecodeError{Input: args[0], Reason: "not hex: " + err.Error()})
			}
			kv := out.KV("encode").
				Set("Encoded", storageindex.Encode(raw)).
				Set("Bytes", len(raw))
			if len(raw) == storageindex.Size {
				si, _ := storageindex.FromBytes(raw)
				kv.Set("Path", storageindex.PathFor(si).Rel())
			}
			return kv.Render()
		},
	}
}

func newDecodeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <text>",
		Short: "Decode base-32 text to hex bytes",
		Long: `Decode base-32 text (case-insensitive) back to bytes, printed as hex.

Examples:
  arc-shares decode aaisem2ekvthpcezvk54zxpo74`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output(cmd, v)
			raw, err := storageindex.Decode(args[0])
			if err != nil {
				return cli.Fail(out, "decode", err)
			}
			return out.KV("decode").
				Set("Hex", hex.EncodeToString(raw)).
				Set("Bytes", len(raw)).
				Set("Storage Index", len(raw) == storageindex.Size).
				Render()
		},
	}
}

func newPathCmd(v *viper.Viper) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "path <si>",
		Short: "Show the sharded path of a storage index",
		Long: `Show where shares of a storage index are stored: the two-character
bucket, the full encoded index and the relative path. With --base the
local directory under that root is shown too.

Examples:
  arc-shares path aaisem2ekvthpcezvk54zxpo74
  arc-shares path aaisem2ekvthpcezvk54zxpo74 --base /var/lib/arc/shares`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output(cmd, v)
			p, err := storageindex.PathForText(args[0])
			if err != nil {
				return cli.Fail(out, "path", err)
			}
			kv := out.KV("path").
				Set("Bucket", p.Bucket).
				Set("Full", p.Full).
				Set("Rel", p.Rel())
			if base != "" {
				kv.Set("Dir", p.Dir(base))
			}
			return kv.Render()
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "storage root to join the path onto")
	return cmd
}

func parseShareNum(s string) (uint8, error) {
	n, err := physical.ParseShareNum(s)
	if err != nil {
		return 0, &storageindex.DecodeError{Input: s, Reason: "share number must be 0-255"}
	}
	return n, nil
}
