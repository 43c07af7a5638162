package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/entries"
)

var activitiesEntry string

func init() {
	rootCmd.AddCommand(activitiesCmd)
	activitiesCmd.Flags().StringVarP(&activitiesEntry, "entry", "e", "", "only this entry id")
}

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "Fetch and print the last week of activities",
	Long: `Fetch the activity feed once for every linked kid (or one entry) and
print it newest first. Nothing is published.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store := entryStore()
		var list []entries.Entry
		if activitiesEntry != "" {
			e, err := store.Get(activitiesEntry)
			if err != nil {
				return err
			}
			list = []entries.Entry{e}
		} else {
			var err error
			if list, err = store.List(); err != nil {
				return err
			}
		}
		return printActivities(cmd.Context(), cmd.OutOrStdout(), procareOptions(), list)
	},
}

func printActivities(ctx context.Context, out io.Writer, opts procare.Options, list []entries.Entry) error {
	if len(list) == 0 {
		renderEntries(out, nil)
		return nil
	}

	var failed int
	for i, e := range list {
		if i > 0 {
			fmt.Fprintln(out)
		}
		records, err := fetchActivities(ctx, opts, e)
		if err != nil {
			failed++
			renderError(out, e.Title, err)
			continue
		}
		renderTimeline(out, e.Title, records)
	}
	if failed > 0 {
		return fmt.Errorf("activities: %d of %d entries failed", failed, len(list))
	}
	return nil
}

func fetchActivities(ctx context.Context, opts procare.Options, e entries.Entry) ([]activity.Record, error) {
	client, err := procare.Open(opts, auth.Credentials{Username: e.Data.Username, Password: e.Data.Password}, log.With("entry_id", e.ID))
	if err != nil {
		return nil, err
	}
	defer client.Close() //nolint:errcheck
	return client.Activities(ctx, e.Data.KidID)
}
