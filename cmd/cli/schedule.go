package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/omp"
	"github.com/anstrom/openvas-connector/internal/scheduler"
)

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Start tasks on cron schedules",
	Long: `Start existing tasks on the cron schedules listed under "schedules" in
the config file. Expressions use the standard five field format and
descriptors such as @daily or @every 6h.`,
	Example: `  openvas-connector schedule list
  openvas-connector schedule run`,
}

// scheduleListCmd represents the schedule list command.
var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured schedules and their next run",
	RunE:  runScheduleList,
}

// scheduleRunCmd represents the schedule run command.
var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler in the foreground",
	Long:  `Run the scheduler until interrupted. Each firing sends start_task once.`,
	RunE:  runScheduleRun,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
}

func newScheduler(cfg *config.Config, client *omp.Client) (*scheduler.Scheduler, error) {
	s := scheduler.NewScheduler(client, scheduler.WithLogger(logging.Default()))
	if err := s.AddFromConfig(cfg.Schedules); err != nil {
		return nil, err
	}
	return s, nil
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(_ context.Context, cfg *config.Config, client *omp.Client) error {
		s, err := newScheduler(cfg, client)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(cmd.OutOrStdout())
		table.Header("Name", "Cron", "Task", "Next Run")
		for _, e := range s.Entries() {
			_ = table.Append([]string{e.Name, e.Spec, e.TaskID, e.NextRun.Format("2006-01-02 15:04")})
		}
		return table.Render()
	})
}

func runScheduleRun(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *omp.Client) error {
		if len(cfg.Schedules) == 0 {
			return fmt.Errorf("no schedules configured")
		}
		s, err := newScheduler(cfg, client)
		if err != nil {
			return err
		}
		if err := s.Start(); err != nil {
			return err
		}

		for _, e := range s.Entries() {
			logging.InfoTask("Schedule active", e.TaskID, "name", e.Name, "cron", e.Spec,
				"next_run", e.NextRun.Format(time.RFC3339))
		}

		<-ctx.Done()
		s.Stop()
		return nil
	})
}
