package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/types"
)

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd, cronRunCmd, cronSyncCmd, cronHistoryCmd)

	cronRunCmd.Flags().String("site", "", "run for this site only")
	cronSyncCmd.Flags().String("site", "", "sync this site only")
	cronHistoryCmd.Flags().Int("limit", 20, "number of runs to show")
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect and run cron jobs",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cron jobs and when they last ran",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		jobs := a.Runner.Status(context.Background())
		if len(jobs) == 0 {
			fmt.Println("No cron jobs registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tINTERVAL\tSYNC\tNETWORK\tMANUAL\tLAST RUN")
		for _, j := range jobs {
			every := j.Interval.String()
			if j.Spec != "" {
				every = j.Spec
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%v\t%s\n",
				j.Name,
				every,
				j.IsSync,
				j.UsesNetwork,
				j.ManualSync,
				formatTime(j.LastRun),
			)
		}
		return w.Flush()
	},
}

var cronRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a cron job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")

		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Runner.ForceExecution(context.Background(), args[0], types.SiteID(site)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Job %q executed.\n", args[0])
		return nil
	},
}

var cronSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run every job that takes part in a manual sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		site, _ := cmd.Flags().GetString("site")

		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Cron.HasManualSyncHandlers() {
			fmt.Println("No jobs take part in manual sync.")
			return nil
		}
		if err := a.Runner.ForceSyncExecution(context.Background(), types.SiteID(site)); err != nil {
			return err
		}
		fmt.Println("Sync finished.")
		return nil
	},
}

var cronHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show the recent runs of a cron job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Journal.Tail(context.Background(), args[0], limit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(recs) == 0 {
			fmt.Printf("No runs recorded for %q.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tSTARTED\tSTATUS\tDURATION\tFORCED\tERROR")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%s\n",
				r.Seq,
				formatTime(r.StartedAt),
				r.Status,
				time.Duration(r.DurationMS)*time.Millisecond,
				r.Forced,
				r.Error,
			)
		}
		return w.Flush()
	},
}
