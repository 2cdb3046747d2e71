package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/config"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/repository"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document/service"
	"github.com/ceolin/mobilidade/backend/go-services/internal/storage"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand.
type app struct {
	verbose bool
	timeout time.Duration

	cfg     *config.Config
	store   document.Store
	svc     *service.Service
	closeFn func()
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{closeFn: func() {}}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docstore",
		Short:         "Inspect and maintain the CEOLIN document",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if a.verbose {
				level = "debug"
			}
			logger.Init(level)
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Operation timeout")

	root.AddCommand(a.getCmd(), a.putCmd(), a.initCmd(), a.historyCmd(), a.snapshotCmd())
	a.releaseAfterRun(root)
	return root
}

// releaseAfterRun closes the store when each command returns, including on
// error, where cobra skips the post-run hooks.
func (a *app) releaseAfterRun(cmd *cobra.Command) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			defer a.release()
			return run(cmd, args)
		}
	}
	for _, sub := range cmd.Commands() {
		a.releaseAfterRun(sub)
	}
}

func (a *app) release() {
	a.closeFn()
	a.closeFn = func() {}
	a.store, a.svc = nil, nil
}

// open connects to the configured store on first use.
func (a *app) open(ctx context.Context) error {
	if a.svc != nil {
		return nil
	}
	store, closeFn, err := repository.Connect(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.store, a.closeFn = store, closeFn
	a.svc = service.New(store, a.cfg.Store.Path,
		service.WithShapeValidation(a.cfg.Store.ValidateShape),
		service.WithCommitPrefix(a.cfg.Store.CommitMessage),
	)
	return nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) getCmd() *cobra.Command {
	var showVersion bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}
			res, err := a.svc.Read(ctx)
			if err != nil {
				return err
			}
			if showVersion {
				v := string(res.Version)
				if res.Default {
					v = "(none: default document)"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "sha: %s\n", v)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			return err
		},
	}
	cmd.Flags().BoolVar(&showVersion, "show-sha", false, "Print the version token to stderr")
	return cmd
}

func (a *app) putCmd() *cobra.Command {
	var sha, message string
	cmd := &cobra.Command{
		Use:   "put FILE",
		Short: "Replace the document with FILE (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			if !json.Valid(content) {
				return fmt.Errorf("%s is not valid JSON", args[0])
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}
			req := service.WriteRequest{Content: string(content), Message: message}
			if cmd.Flags().Changed("sha") {
				v := document.Version(sha)
				req.ExpectedVersion = &v
			}
			res, err := a.svc.Write(ctx, req)
			if errors.Is(err, document.ErrConflict) {
				return fmt.Errorf("version conflict: the document changed; fetch it again and retry")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&sha, "sha", "", "Only write if the document is still at this version (empty: only if it does not exist)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	return cmd
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default document if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}
			none := document.Version("")
			res, err := a.svc.Write(ctx, service.WriteRequest{
				Content:         document.DefaultContent(),
				ExpectedVersion: &none,
				Message:         "CMS: initialize " + a.cfg.Store.Path,
			})
			if errors.Is(err, document.ErrConflict) {
				fmt.Fprintln(cmd.OutOrStdout(), "document already exists")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s at %s\n", res.Path, res.Version)
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent commits of the document (git backend)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}
			repo, ok := a.store.(*repository.GitRepo)
			if !ok {
				return fmt.Errorf("history is only available for the %q backend", config.BackendGit)
			}
			entries, err := repo.History(ctx, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", string(e.Version)[:7], e.CommittedAt.Format(time.RFC3339), firstLine(e.Message))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of commits")
	return cmd
}

func (a *app) snapshotCmd() *cobra.Command {
	snap := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with archived snapshots in MinIO",
	}

	archive := func(ctx context.Context) (*storage.SnapshotArchive, error) {
		return storage.NewSnapshotArchive(ctx, a.cfg.MinIO)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			arch, err := archive(ctx)
			if err != nil {
				return err
			}
			snaps, err := arch.List(ctx, limit)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", s.Key, s.Size, s.Version)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of snapshots")

	var ttl time.Duration
	url := &cobra.Command{
		Use:   "url KEY",
		Short: "Print a presigned download URL for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			arch, err := archive(ctx)
			if err != nil {
				return err
			}
			u, err := arch.PresignedURL(ctx, args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
			return err
		},
	}
	url.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "URL validity")

	restore := &cobra.Command{
		Use:   "restore KEY",
		Short: "Write a snapshot back as the current document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			arch, err := archive(ctx)
			if err != nil {
				return err
			}
			content, err := arch.Download(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			res, err := a.svc.Write(ctx, service.WriteRequest{
				Content: string(content),
				Message: fmt.Sprintf("CMS: restore snapshot %s", storage.VersionFromKey(args[0])),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	snap.AddCommand(list, url, restore)
	return snap
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
