package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	consensusengine "hangout/contexts/hangout-planning/consensus-engine"
	"hangout/internal/app/bootstrap"

	"github.com/spf13/cobra"
)

// moduleRunner opens the engine for one command and closes it afterwards.
type moduleRunner func(ctx context.Context, fn func(consensusengine.Module) error) error

func postgresRunner(ctx context.Context, fn func(consensusengine.Module) error) error {
	pg, module, _, err := bootstrap.BuildModule(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()
	return fn(module)
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(postgresRunner, bootstrap.Migrate)
}

func newRootCommandWith(run moduleRunner, migrate func(context.Context) error) *cobra.Command {
	root := &cobra.Command{
		Use:           "hangoutctl",
		Short:         "Operator tooling for the hangout consensus engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the consensus engine tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue polls and finalize polls that already reached consensus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(module consensusengine.Module) error {
				report, err := module.Sweeper.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d finalized=%d failed=%d\n",
					report.Scanned, report.Expired, report.Finalized, report.Failed)
				return nil
			})
		},
	})

	var pollID string
	repair := &cobra.Command{
		Use:   "repair-rsvps",
		Short: "Create missing pending RSVPs for confirmed polls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(module consensusengine.Module) error {
				var (
					created int
					err     error
				)
				if id := strings.TrimSpace(pollID); id != "" {
					created, err = module.Finalizer.RepairRSVPs(cmd.Context(), id)
				} else {
					created, err = module.Repair.RunOnce(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rsvps_created=%d\n", created)
				return nil
			})
		},
	}
	repair.Flags().StringVar(&pollID, "poll-id", "", "repair a single poll instead of the recent look-back window")
	root.AddCommand(repair)

	var statePollID, viewerID string
	state := &cobra.Command{
		Use:   "poll-state",
		Short: "Print the state of a poll as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(module consensusengine.Module) error {
				resp, err := module.Handler.PollStateHandler(cmd.Context(), statePollID, viewerID)
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(resp)
			})
		},
	}
	state.Flags().StringVar(&statePollID, "poll-id", "", "poll id")
	state.Flags().StringVar(&viewerID, "viewer", "", "viewer user id")
	_ = state.MarkFlagRequired("poll-id")
	root.AddCommand(state)

	return root
}
