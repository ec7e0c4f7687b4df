package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Donation Portal Configuration")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Listen:       %s\n", cfg.Addr())
			fmt.Fprintf(out, "  Backend:      %s\n", cfg.Backend.BaseURL)
			fmt.Fprintf(out, "  Proxy:        %s\n", keyStatus(cfg.ProxyURL))
			fmt.Fprintf(out, "  Currency:     %s\n", cfg.Gateway.Currency)
			fmt.Fprintf(out, "  Gateway key:  %s\n", keyStatus(cfg.Gateway.KeyID))
			fmt.Fprintf(out, "  Turnstile:    %s\n", keyStatus(cfg.Turnstile.SiteKey))
			fmt.Fprintf(out, "  Dashboard:    %d access key(s)\n", len(cfg.DashboardAccessKeys()))
			fmt.Fprintf(out, "  Receipts:     %t\n", cfg.ReceiptsEnabled())
			fmt.Fprintf(out, "  Audit DB:     %s\n", keyStatus(cfg.Audit.DatabaseURL))
			fmt.Fprintf(out, "  Campaign over: %t\n", cfg.CampaignOver)
			return nil
		},
	}
}

func keyStatus(value string) string {
	if value == "" {
		return "not configured"
	}
	return "configured"
}
