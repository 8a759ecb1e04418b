package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newMetaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <id>",
		Short: "Print the metadata document of a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.remote()
			if err != nil {
				return err
			}
			defer cl.Close()
			ctx, cancel := c.context(cmd)
			defer cancel()

			ident, err := cl.GetMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ident)
		},
	}
}

func newURLCmd(c *cli) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "url <id>",
		Short: "Print a time-limited download URL for a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.remote()
			if err != nil {
				return err
			}
			defer cl.Close()
			ctx, cancel := c.context(cmd)
			defer cancel()

			u, err := cl.GetPayloadURL(ctx, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "URL lifetime (0 = server default)")
	return cmd
}

func newGetCmd(c *cli) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Download a stored payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.remote()
			if err != nil {
				return err
			}
			defer cl.Close()
			ctx, cancel := c.context(cmd)
			defer cancel()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := cl.Download(ctx, args[0], w)
			if err != nil {
				if output != "" && output != "-" {
					os.Remove(output)
				}
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "✅ %s (%d bytes)\n", output, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
