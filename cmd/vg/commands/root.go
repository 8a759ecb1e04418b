package commands

import (
	"context"
	"fmt"

	"vaultgate/pkg/client"
	"vaultgate/pkg/config"
	"vaultgate/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli 是所有子命令共享的状态，由 PersistentPreRunE 填充
type cli struct {
	cfgFile string
	cfg     *config.Config
}

func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "vg",
		Short:        "vaultgate: verified, scanned, content-addressed uploads",
		SilenceUsage: true,
		// 所有子命令执行前统一加载配置
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			// 日志走 stderr，stdout 只输出结果
			logger.InitWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			c.cfg = cfg
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.vaultgate/config.yaml)")
	flags.String("remote", "", "server address, host:port")
	flags.String("log-level", "", "debug | info | warn | error")
	bind("client.remote", flags.Lookup("remote"))
	bind("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newPushCmd(c),
		newFetchCmd(c),
		newMetaCmd(c),
		newURLCmd(c),
		newGetCmd(c),
	)
	return root
}

func bind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag.Name, err))
	}
}

func (c *cli) remote() (*client.VGClient, error) {
	return client.NewVGClient(c.cfg.Client.Remote)
}

// context 给整条命令套上 client.timeout
func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if c.cfg.Client.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Client.Timeout)
	}
	return context.WithCancel(ctx)
}
