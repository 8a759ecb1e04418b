package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vaultgate/pkg/client"
	"vaultgate/pkg/ignore"
	"vaultgate/pkg/service"

	"github.com/spf13/cobra"
)

func newPushCmd(c *cli) *cobra.Command {
	var (
		expected    string
		contentType string
		skipScan    bool
		algorithms  []string
	)
	cmd := &cobra.Command{
		Use:   "push <file|dir>...",
		Short: "Upload files; directories are walked honouring .vaultignore",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectFiles(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Nothing to push.")
				return nil
			}
			if expected != "" && len(files) != 1 {
				return fmt.Errorf("--expected-hash needs exactly one file, got %d", len(files))
			}

			cl, err := c.remote()
			if err != nil {
				return err
			}
			defer cl.Close()
			ctx, cancel := c.context(cmd)
			defer cancel()

			out := cmd.OutOrStdout()
			failures := 0
			for _, path := range files {
				reply, err := pushFile(ctx, cl, path, client.UploadMeta{
					ContentType:  contentType,
					ExpectedHash: expected,
					SkipScan:     skipScan,
					Algorithms:   algorithms,
				})
				if err != nil {
					fmt.Fprintf(out, "❌ %s: %v\n", path, err)
					failures++
					continue
				}
				state := "stored"
				if reply.Deduplicated {
					state = "deduplicated"
				}
				fmt.Fprintf(out, "✅ %s  %s (%s, %d bytes, %s)\n",
					reply.ID, path, reply.Identity.DeclaredType, reply.Identity.Size, state)
			}

			if len(files) > 1 {
				fmt.Fprintf(out, "\nSummary: %d succeeded, %d failed.\n", len(files)-failures, failures)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d files failed", failures, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&expected, "expected-hash", "", "expected primary digest (hex); single file only")
	cmd.Flags().StringVar(&contentType, "type", "", "declared content type, used when detection fails")
	cmd.Flags().BoolVar(&skipScan, "skip-scan", false, "skip the malware scan")
	cmd.Flags().StringSliceVar(&algorithms, "algorithms", nil, "extra digest algorithms (sha256, blake3)")
	return cmd
}

// collectFiles 展开目录参数；目录内的 .vaultignore 只作用于该目录
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		m, err := ignore.NewMatcher(arg)
		if err != nil {
			return nil, fmt.Errorf("load %s in %s: %w", ignore.FileName, arg, err)
		}
		rels, err := m.Files(arg)
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
		for _, rel := range rels {
			files = append(files, filepath.Join(arg, rel))
		}
	}
	return files, nil
}

func pushFile(ctx context.Context, cl *client.VGClient, path string, meta client.UploadMeta) (*service.IngestReply, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	meta.Name = filepath.Base(path)
	meta.Size = stat.Size()
	return cl.Ingest(ctx, f, meta)
}
