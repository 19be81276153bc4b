package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/soundprediction/go-timeline"
	"github.com/soundprediction/go-timeline/pkg/config"
	"github.com/soundprediction/go-timeline/pkg/server/dto"
	"github.com/spf13/cobra"
)

var commandTimeout time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <interval-iri>",
	Short: "Link one interval to its day timelines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			session, err := a.client.Reconcile(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(dto.NewSessionResponse(session))
		})
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass and link the interval it finds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			session, err := a.client.Discover(ctx)
			if errors.Is(err, timeline.ErrNoWork) {
				return printJSON(dto.DiscoverResponse{WorkFound: false})
			}
			if err != nil {
				return err
			}
			resp := dto.NewSessionResponse(session)
			return printJSON(dto.DiscoverResponse{WorkFound: true, Session: &resp})
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{reconcileCmd, discoverCmd} {
		addDatabaseFlags(cmd)
		cmd.Flags().DurationVar(&commandTimeout, "timeout", time.Minute, "Overall deadline")
		rootCmd.AddCommand(cmd)
	}
}

// withApp builds a client without the discovery loop, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	runErr := fn(ctx, a)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	return errors.Join(runErr, a.close(closeCtx))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
