package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sahara-drive/donation-portal/internal/access"
	"github.com/sahara-drive/donation-portal/internal/audit"
	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/checkout"
	"github.com/sahara-drive/donation-portal/internal/config"
	"github.com/sahara-drive/donation-portal/internal/donation"
	"github.com/sahara-drive/donation-portal/internal/logging"
	"github.com/sahara-drive/donation-portal/internal/notify"
	"github.com/sahara-drive/donation-portal/internal/receipt"
	"github.com/sahara-drive/donation-portal/internal/transactions"
	sdkaccess "github.com/sahara-drive/donation-portal/sdk/access"
	"github.com/skratchdot/open-golang/open"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = 5 * time.Minute
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().Bool("open", false, "Open the landing page in the default browser")
	return cmd
}

func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	config.LoadDotEnv(envFile)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logging.SetupBaseLogger()
	path, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logging.ConfigureLogOutput(cfg); err != nil {
		return err
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}

	hub := notify.NewHub()
	defer hub.Close()
	svc := transactions.NewService(client, transactions.Options{
		PageSize: cfg.Dashboard.PageSize,
		CacheTTL: cfg.Dashboard.CacheTTL,
		Notifier: hub,
	})

	manager := sdkaccess.NewManager()
	if _, err := access.ApplyAccessProviders(manager, nil, cfg); err != nil {
		return err
	}
	if !manager.Configured() {
		log.Warn("dashboard access key is not configured, dashboard login is disabled")
	}

	var hooks []checkout.TransitionHook
	if cfg.Audit.DatabaseURL != "" {
		sink, err := audit.NewPostgresSink(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			return err
		}
		defer sink.Close()
		hooks = append(hooks, audit.Hook(sink))
	} else {
		hooks = append(hooks, audit.Hook(audit.NewLogSink()))
	}
	if cfg.ReceiptsEnabled() {
		receipts := receipt.NewService(receipt.NewSMTPEmailSender(cfg.SMTP), cfg.Location())
		hooks = append(hooks, receipts.Hook())
	}

	module := donation.NewDonationModule(cfg, donation.Dependencies{
		Orders:       client,
		Transactions: svc,
		Access:       manager,
		Hub:          hub,
		Hooks:        hooks,
	})

	if path != "" {
		watcher, err := config.NewWatcher(path, cfg, func(oldCfg, newCfg *config.Config) {
			if err := client.Reconfigure(newCfg); err != nil {
				log.WithError(err).Error("failed to apply backend settings, keeping the previous ones")
			} else {
				log.WithField("backend", client.BaseURL()).Info("backend settings applied")
			}
			svc.Cache().SetTTL(newCfg.Dashboard.CacheTTL)
			changed, err := access.ApplyAccessProviders(manager, oldCfg, newCfg)
			if err != nil {
				log.WithError(err).Error("failed to rebuild dashboard access providers")
			} else if changed {
				module.Sessions().DeleteAll()
				log.Info("dashboard access keys changed, existing dashboard sessions were closed")
			}
			if err := logging.ConfigureLogOutput(newCfg); err != nil {
				log.WithError(err).Warn("failed to reconfigure log output")
			}
			module.UpdateConfig(newCfg)
		})
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(logging.GinLogger(), gin.Recovery())
	module.RegisterRoutes(engine)
	go module.RunJanitor(ctx, janitorInterval)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("donation portal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if openPage, _ := cmd.Flags().GetBool("open"); openPage {
		openBrowser(cfg)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openBrowser(cfg *config.Config) {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	url := fmt.Sprintf("http://%s:%d/", host, cfg.Port)
	if err := open.Run(url); err != nil {
		log.WithError(err).Warn("could not open browser")
	}
}
