package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iamadamzc/TLDW-sub001/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				target = config.ExpandPath(target)
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.WriteSample(target); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set the proxy credentials (or export TLDW_PROXY_PASSWORD) before starting tldwd.")
			return nil
		},
	}
	cmd.Flags().StringVar(&targetPath, "path", "", "destination for the sample file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := [][]string{
				{"paths.work_dir", cfg.Paths.WorkDir},
				{"paths.log_dir", cfg.Paths.LogDir},
				{"api.bind", cfg.API.Bind},
				{"api.token", maskSecret(cfg.API.Token)},
				{"proxy.endpoint_host", cfg.Proxy.EndpointHost},
				{"proxy.customer_id", cfg.Proxy.CustomerID},
				{"proxy.password", maskSecret(cfg.Proxy.Password)},
				{"pipeline.watchdog_seconds", fmt.Sprint(cfg.Pipeline.WatchdogSeconds)},
				{"pipeline.languages", strings.Join(cfg.Pipeline.Languages, ", ")},
				{"asr.transcriber.base_url", cfg.ASR.Transcriber.BaseURL},
				{"asr.transcriber.api_key", maskSecret(cfg.ASR.Transcriber.APIKey)},
				{"store.database", cfg.Store.Database},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, rows))
			return nil
		},
	}
}

func maskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(unset)"
	}
	return "***"
}
