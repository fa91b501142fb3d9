package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngoyal88/sqlrecorder/pkg/cache"
	"github.com/ngoyal88/sqlrecorder/pkg/config"
	"github.com/ngoyal88/sqlrecorder/pkg/recorder"
	"github.com/ngoyal88/sqlrecorder/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:          "recorder-admin",
		Short:        "Inspect and control the SQL recorder through its Redis store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "./configs", "directory holding config.yaml")

	withStore := func(run func(ctx context.Context, out io.Writer, s storage.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := openStore(configDir)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			return run(ctx, cmd.OutOrStdout(), store, args)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Generate admin key and store in .env",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				adminKey, err := generateAdminKey()
				if err != nil {
					return fmt.Errorf("failed to generate admin key: %w", err)
				}
				if err := writeAdminKey(".env", adminKey); err != nil {
					return fmt.Errorf("failed to write .env: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "AdminKey: %s\nSaved to .env (ADMIN_KEY).\n", adminKey)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether recording is on",
			Args:  cobra.NoArgs,
			RunE:  withStore(runStatus),
		},
		&cobra.Command{
			Use:   "enable",
			Short: "Start recording new requests",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, out io.Writer, s storage.Store, _ []string) error {
				return runSetState(ctx, out, s, true)
			}),
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop recording new requests",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, out io.Writer, s storage.Store, _ []string) error {
				return runSetState(ctx, out, s, false)
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List recorded requests, newest first",
			Args:  cobra.NoArgs,
			RunE:  withStore(runList),
		},
		&cobra.Command{
			Use:   "get <id>",
			Short: "Print one recorded request with all its calls",
			Args:  cobra.ExactArgs(1),
			RunE:  withStore(runGet),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the request list",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, out io.Writer, s storage.Store, _ []string) error {
				if err := s.ClearTraces(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Request list cleared")
				return nil
			}),
		},
	)
	return root
}

func openStore(configDir string) (storage.Store, func(), error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Redis.Enabled {
		return nil, nil, errors.New("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	store := storage.NewRedisStore(rdb, storage.Options{
		ListLimit: cfg.Recorder.ListLimit,
		DetailTTL: cfg.Recorder.DetailTTL,
	})
	return store, func() { rdb.Close() }, nil
}

func runStatus(ctx context.Context, out io.Writer, s storage.Store, _ []string) error {
	status, err := recorder.NewController(s).Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, status.Status)
	return nil
}

func runSetState(ctx context.Context, out io.Writer, s storage.Store, on bool) error {
	status, err := recorder.NewController(s).SetActive(ctx, on)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Recorder is now %s\n", status.Status)
	return nil
}

func runList(ctx context.Context, out io.Writer, s storage.Store, _ []string) error {
	traces, err := s.ListTraces(ctx)
	if err != nil {
		return err
	}
	if len(traces) == 0 {
		fmt.Fprintln(out, "No recorded requests")
		return nil
	}
	for i, t := range traces {
		fmt.Fprintf(out, "%d) %s %s %s queries=%d time_queries=%.3fms duration=%.3fms at=%s\n",
			i+1, t.ID, t.Method, t.Path, t.Queries, t.TimeQueries, t.Duration, t.Time.Format(time.RFC3339))
	}
	return nil
}

func runGet(ctx context.Context, out io.Writer, s storage.Store, args []string) error {
	t, err := s.GetTrace(ctx, args[0])
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(b))
	return nil
}

func generateAdminKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "admin_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// writeAdminKey sets ADMIN_KEY in envFile, keeping every other line.
func writeAdminKey(envFile, adminKey string) error {
	entry := fmt.Sprintf("ADMIN_KEY=%s", adminKey)

	data, err := os.ReadFile(envFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.WriteFile(envFile, []byte(entry+"\n"), 0600)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(line, "ADMIN_KEY=") {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	return os.WriteFile(envFile, []byte(strings.Join(lines, "\n")+"\n"), 0600)
}
