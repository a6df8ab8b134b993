package main

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		server     string
		token      string
	)

	root := &cobra.Command{
		Use:           "tldw",
		Short:         "Fetch YouTube transcripts through the tldwd pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&server, "server", "", "daemon API address (defaults to the configured bind)")
	root.PersistentFlags().StringVar(&token, "token", "", "daemon API bearer token")

	ctx := &commandContext{
		configFlag: &configPath,
		serverFlag: &server,
		tokenFlag:  &token,
	}

	root.AddCommand(newSubmitCommand(ctx))
	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newPreflightCommand(ctx))
	root.AddCommand(newConfigCommand(ctx))
	return root
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// client builds an API client from the flags, falling back to the configured
// bind address and token.
func (c *commandContext) client() (*apiClient, error) {
	server := strings.TrimSpace(*c.serverFlag)
	token := strings.TrimSpace(*c.tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("TLDW_API_TOKEN"))
	}
	if server == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if server == "" {
			server = cfg.API.Bind
		}
		if token == "" {
			token = cfg.API.Token
		}
	}
	return newAPIClient(server, token), nil
}
