package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-session-go/httpapi"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain stored sessions",
	}
	cmd.AddCommand(newSessionsListCmd(), newSessionsCleanupCmd(), newSessionsClearCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Long: `List stored sessions. Reading a session extends its lifetime
like any other access.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.GetAllSessionIDs(ctx)
			if err != nil {
				return err
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"SESSION", "STATE", "SERVER", "TRANSPORT", "CREATED", "TOKEN EXPIRES"})
			for _, id := range ids {
				rec, err := store.GetSession(ctx, id)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				if rec == nil {
					continue
				}
				sum := httpapi.Summarize(rec)
				if state != "" && sum.State != state {
					continue
				}
				expires := "-"
				if sum.TokenExpiresAt != nil {
					expires = sum.TokenExpiresAt.Format(time.RFC3339)
				}
				server := sum.ServerURL
				if sum.ServerName != "" {
					server = sum.ServerName
				}
				tw.AppendRow(table.Row{sum.SessionID, stateColor(sum.State), server, sum.TransportType, sum.CreatedAt.Format(time.RFC3339), expires})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "only show sessions in this state (created, registering, authorizing, active)")
	return cmd
}

func newSessionsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove session keys that have no expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			n := store.CleanupExpiredSessions(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", n)
			return nil
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all sessions without --yes")
			}
			ctx := cmd.Context()
			_, _, store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			n := store.ClearAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func stateColor(state string) string {
	switch state {
	case "active":
		return text.FgGreen.Sprint(state)
	case "authorizing", "registering":
		return text.FgYellow.Sprint(state)
	default:
		return state
	}
}
