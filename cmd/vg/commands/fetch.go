package commands

import (
	"fmt"
	"time"

	"vaultgate/pkg/service"

	"github.com/spf13/cobra"
)

func newFetchCmd(c *cli) *cobra.Command {
	var (
		expected   string
		skipScan   bool
		timeout    time.Duration
		urlTTL     time.Duration
		algorithms []string
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Have the server download, verify and store a remote object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.remote()
			if err != nil {
				return err
			}
			defer cl.Close()
			ctx, cancel := c.context(cmd)
			defer cancel()

			reply, err := cl.Fetch(ctx, service.FetchRequest{
				Locator:       args[0],
				TimeoutMillis: timeout.Milliseconds(),
				SkipScan:      skipScan,
				ExpectedHash:  expected,
				Algorithms:    algorithms,
				URLTTLSeconds: int64(urlTTL / time.Second),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ %s (%d bytes)\n", reply.ID, reply.Identity.Size)
			for alg, h := range reply.Identity.Hashes {
				fmt.Fprintf(out, "   %-7s %s\n", alg, h)
			}
			if reply.URL != "" {
				fmt.Fprintf(out, "   url     %s\n", reply.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expected, "expected-hash", "", "expected primary digest (hex)")
	cmd.Flags().BoolVar(&skipScan, "skip-scan", false, "skip the malware scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "remote download timeout (0 = server default)")
	cmd.Flags().DurationVar(&urlTTL, "url-ttl", 0, "also return a download URL valid for this long")
	cmd.Flags().StringSliceVar(&algorithms, "algorithms", nil, "extra digest algorithms (sha256, blake3)")
	return cmd
}
