package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/tagstate/internal/auth"
	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/config"
	"github.com/danmuck/tagstate/internal/reconcile"
	"github.com/danmuck/tagstate/internal/server"
)

func (a *app) stateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state [buildlog]",
		Short: "Print the desired tag state as version-sorted JSON (no registry access)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			path, err := buildLogPath(cfg, args)
			if err != nil {
				return err
			}
			records, err := buildlog.Read(path, buildLogOptions(cfg))
			if err != nil {
				return err
			}
			desired := reconcile.Desired(records)
			if len(a.tags) > 0 {
				desired = desired.Restrict(a.tags)
			}
			return reconcile.WriteState(a.stdout, desired)
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [buildlog]",
		Short: "Serve desired state and the current plan over a read-only HTTP API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if err := cfg.ValidateRegistry(); err != nil {
				return err
			}
			path, err := buildLogPath(cfg, args)
			if err != nil {
				return err
			}
			reg, err := a.newRegistry(cfg)
			if err != nil {
				return err
			}

			opts := buildLogOptions(cfg)
			srvOpts := server.Options{
				Addr:        cfg.Server.Addr,
				Version:     version,
				CorsOrigins: cfg.Server.CorsOrigins,
				BuildLog:    path,
				Load: func() ([]buildlog.Record, error) {
					return buildlog.Read(path, opts)
				},
				Reconciler: &reconcile.Reconciler{
					Registry:    reg,
					Concurrency: cfg.Reconcile.Concurrency,
				},
			}
			if cfg.Server.Token != "" {
				srvOpts.Validator = auth.StaticToken{Token: cfg.Server.Token}
			} else {
				log.Warn().Msg("server_token_unset: /v1 endpoints are unauthenticated")
			}

			log.Info().Str("buildlog", path).Str("addr", cfg.Server.Addr).Msg("serve_start")
			return server.New(srvOpts).Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check a tagstate config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "tagstate.toml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintf(a.stdout, "wrote %s\n", abs)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var registryRequired bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the config with env overrides, validate it and print the effective result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if registryRequired {
				if err := cfg.ValidateRegistry(); err != nil {
					return err
				}
			}
			data, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	validateCmd.Flags().BoolVar(&registryRequired, "require-registry", true, "fail when registry.repository is missing or invalid")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
