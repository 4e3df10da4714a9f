package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/scripthost/internal/app"
)

// errVerifyFailed marks a verify run with at least one bad artifact.
var errVerifyFailed = errors.New("one or more artifacts failed verification")

type rootFlags struct {
	configPath string
	logLevel   string
}

func (f *rootFlags) options() app.Options {
	return app.Options{
		ConfigPath: f.configPath,
		LogLevel:   f.logLevel,
	}
}

func newRootCommand(version, commit, date string) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "scripthost",
		Short: "Scripthost - Lua extension host",
		Long: `Scripthost loads Lua extensions declared in a YAML document, provisions the
Maven artifacts they depend on and exposes commands, listeners and
placeholders the extensions register.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the settings file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newServeCommand(flags),
		newProvisionCommand(flags),
		newVerifyCommand(flags),
		newVersionCommand(version, commit, date),
	)
	return rootCmd
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load extensions and read console commands from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.options()
			opts.Stdin = cmd.InOrStdin()
			opts.Stdout = cmd.OutOrStdout()

			application, err := app.New(opts)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(signals)

			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case sig := <-signals:
						application.HandleSignal(ctx, sig)
					}
				}
			}()

			return application.Run(ctx)
		},
	}
}

func newProvisionCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Download and verify every declared dependency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(flags.options())
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			resolved, err := application.Provision(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range resolved {
				fmt.Fprintf(out, "ok       %s  %s\n", r.Coordinates(), r.Path)
			}
			failures := application.Dependencies().Failures()
			names := make([]string, 0, len(failures))
			for name := range failures {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "missing  %s: %v\n", name, failures[name])
			}
			fmt.Fprintf(out, "%d available, %d missing\n", len(resolved), len(failures))
			return nil
		},
	}
}

func newVerifyCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-check cached artifacts against their published checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(flags.options())
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			results, err := application.Verify(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "FAIL  %s: %v\n", r.Coordinates(), r.Err)
					continue
				}
				fmt.Fprintf(out, "ok    %s\n", r.Coordinates())
			}
			if failed > 0 {
				return errVerifyFailed
			}
			return nil
		},
	}
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scripthost %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}
