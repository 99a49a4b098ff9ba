/*
Copyright 2024 The Forge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package app assembles shipyard-build's dependency graph from parsed
// options and runs the HTTP server until signaled to stop.
package app

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/forge-build/shipyard/cmd/shipyard-build/app/options"
	"github.com/forge-build/shipyard/internal/build"
	"github.com/forge-build/shipyard/internal/config"
	"github.com/forge-build/shipyard/internal/httpapi"
	"github.com/forge-build/shipyard/internal/launch"
	"github.com/forge-build/shipyard/internal/log"
	"github.com/forge-build/shipyard/internal/metrics"
	"github.com/forge-build/shipyard/internal/orchestrator"
	"github.com/forge-build/shipyard/internal/provider"
	"github.com/forge-build/shipyard/internal/registry"
	"github.com/forge-build/shipyard/internal/workpool"
)

const commandName = "shipyard-build"

// NewCommand builds the shipyard-build cobra command.
func NewCommand() *cobra.Command {
	opts := &options.RunOptions{}

	fs := flag.NewFlagSet(commandName, flag.ExitOnError)
	opts.AddFlags(fs)

	cmd := &cobra.Command{
		Use:   commandName,
		Short: "Build-and-launch orchestrator for on-demand container images",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return run(opts)
		},
	}
	cmd.Flags().AddGoFlagSet(fs)
	return cmd
}

func run(opts *options.RunOptions) error {
	logger, err := log.New(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return fmt.Errorf("app: build logger: %w", err)
	}
	logger = logger.WithName(commandName)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}

	clientset, err := buildKubernetesClient(opts.Kubeconfig, cfg.FakeBuild)
	if err != nil {
		return fmt.Errorf("app: build kubernetes client: %w", err)
	}

	var driver build.Driver
	if cfg.FakeBuild {
		logger.Info("fakeBuild is set, using the in-memory build driver")
		driver = &build.FakeDriver{}
	} else {
		driver = &build.JobDriver{Clientset: clientset, Log: logger}
	}

	providers := map[string]provider.Factory{}
	for prefix, p := range cfg.RepoProviders {
		switch p.Kind {
		case "git":
			providers[prefix] = provider.NewGitFactory(p.HostTemplate)
		default:
			return fmt.Errorf("app: unknown provider kind %q for prefix %q", p.Kind, prefix)
		}
	}

	regClient := registry.NewClient()
	regClient.Log = logger

	orch := &orchestrator.Orchestrator{
		Providers: provider.NewRegistry(providers),
		Registry:  regClient,
		Driver:    driver,
		Pool:      workpool.New(cfg.BuildPoolSize),
		Hub:       launch.NewHubClient(cfg.Launcher.HubURL, cfg.Launcher.HubAPIToken),
		HubURL:    cfg.Launcher.HubURL,
		Log:       logger,
	}

	router := httpapi.NewRouter(orch, cfg, logger)
	server := &http.Server{Addr: cfg.Addr, Handler: router}

	metricsServer := metrics.NewServer(cfg.MetricsAddr, logger)
	metricsServer.StartAsync()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting build-and-launch server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error(err, "server exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "error during server shutdown")
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error(err, "error during metrics server shutdown")
	}
	return nil
}

func buildKubernetesClient(kubeconfig string, fakeBuild bool) (kubernetes.Interface, error) {
	if fakeBuild && kubeconfig == "" {
		return nil, nil
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}
