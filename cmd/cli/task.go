package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/monitor"
	"github.com/anstrom/openvas-connector/internal/omp"
	"github.com/anstrom/openvas-connector/internal/webhook"
)

const reportFilePerm = 0o600

var (
	taskName     string
	taskTargetID string
	taskConfigID string
	taskAlertID  string
	taskComment  string
	taskID       string
	taskFilter   string

	taskInterval   time.Duration
	taskUseWebhook bool
	taskWaitFirst  bool
	taskReportFile string
)

// taskCmd represents the task command.
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scan tasks",
	Long: `Create, start, stop and delete scan tasks, wait for them to finish and
fetch their reports.`,
	Example: `  openvas-connector task create --name weekly --target <target-id>
  openvas-connector task start <task-id>
  openvas-connector task wait <task-id> --webhook
  openvas-connector task report <task-id> --wait --output report.xml`,
}

// taskCreateCmd represents the task create command.
var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	Long: `Create a scan task for a target. Without --config the "Full and fast"
scan config is used.`,
	RunE: runTaskCreate,
}

// taskStartCmd represents the task start command.
var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

// taskStopCmd represents the task stop command.
var taskStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStop,
}

// taskDeleteCmd represents the task delete command.
var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

// taskListCmd represents the task list command.
var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

// taskWaitCmd represents the task wait command.
var taskWaitCmd = &cobra.Command{
	Use:   "wait <task-id>",
	Short: "Wait until a task is done",
	Long: `Poll the task status until it is Done. The delay between polls starts
at --interval and shrinks as the task progresses. With --webhook the alert
listener runs as well and whichever sees completion first wins.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskWait,
}

// taskReportCmd represents the task report command.
var taskReportCmd = &cobra.Command{
	Use:   "report <task-id>",
	Short: "Fetch the latest report of a task",
	Long: `Fetch the newest report of a task. When the task has more than one
finished report a delta report against the previous one is returned.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskReport,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskStopCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskWaitCmd)
	taskCmd.AddCommand(taskReportCmd)

	taskCreateCmd.Flags().StringVar(&taskName, "name", "", "task name")
	taskCreateCmd.Flags().StringVar(&taskTargetID, "target", "", "target id")
	taskCreateCmd.Flags().StringVar(&taskConfigID, "config-id", "", "scan config id (default: Full and fast)")
	taskCreateCmd.Flags().StringVar(&taskAlertID, "alert", "", "alert id")
	taskCreateCmd.Flags().StringVar(&taskComment, "comment", "", "task comment")
	_ = taskCreateCmd.MarkFlagRequired("name")
	_ = taskCreateCmd.MarkFlagRequired("target")

	taskListCmd.Flags().StringVar(&taskID, "id", "", "only show this task")
	taskListCmd.Flags().StringVar(&taskFilter, "filter", "", "OMP filter string")

	taskWaitCmd.Flags().DurationVar(&taskInterval, "interval", 0, "base status interval (default from config)")
	taskWaitCmd.Flags().BoolVar(&taskUseWebhook, "webhook", false, "also listen for the task done alert")

	taskReportCmd.Flags().BoolVar(&taskWaitFirst, "wait", false, "wait for the task to finish first")
	taskReportCmd.Flags().DurationVar(&taskInterval, "interval", 0, "base status interval when waiting")
	taskReportCmd.Flags().StringVarP(&taskReportFile, "output", "o", "", "write the report to a file instead of stdout")
}

func runTaskCreate(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.CreateTask(ctx, omp.CreateTaskRequest{
			Name:     taskName,
			TargetID: taskTargetID,
			ConfigID: taskConfigID,
			AlertID:  taskAlertID,
			Comment:  taskComment,
		})
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Task created")
	})
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.StartTask(ctx, args[0])
		if err != nil {
			return err
		}
		if err := printStatus(cmd.OutOrStdout(), resp, "Task started"); err != nil {
			return err
		}
		if reportID := resp.Root.Text("report_id"); reportID != "" && !xmlOutput {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", reportID)
		}
		return err
	})
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.StopTask(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Task stopped")
	})
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.DeleteTask(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Task deleted")
	})
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.GetTasks(ctx, taskID, taskFilter)
		if err != nil {
			return err
		}
		return printList(cmd.OutOrStdout(), resp, "task",
			idColumn(),
			textColumn("Name", "name"),
			textColumn("Status", "status"),
			textColumn("Progress", "progress"),
			column{"Last Report", func(n *omp.Node) string { return n.AttrAt("last_report/report", "id") }},
		)
	})
}

func newMonitor(cfg *config.Config, client *omp.Client) *monitor.Monitor {
	interval := cfg.Monitor.StatusInterval
	if taskInterval > 0 {
		interval = taskInterval
	}
	return monitor.New(client, monitor.Config{
		StatusInterval: interval,
		ReportRows:     cfg.Monitor.ReportRows,
	})
}

func newReceiver(cfg *config.Config) *webhook.Receiver {
	return webhook.New(webhook.Config{
		Host:          cfg.Webhook.Host,
		Port:          cfg.Webhook.Port,
		Path:          cfg.Webhook.Path,
		ExposeMetrics: cfg.Webhook.ExposeMetrics,
	})
}

func runTaskWait(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *omp.Client) error {
		m := newMonitor(cfg, client)
		out := cmd.OutOrStdout()

		if taskUseWebhook {
			c, err := m.WaitForCompletion(ctx, args[0], newReceiver(cfg))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "Task %s done (seen by %s)\n", args[0], c.Source)
			return err
		}

		task, err := m.WaitForTask(ctx, args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "Task %s (%s) is %s\n", task.ID, task.Name, task.Status)
		return err
	})
}

func runTaskReport(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *omp.Client) error {
		m := newMonitor(cfg, client)

		var (
			resp *omp.Response
			err  error
		)
		if taskWaitFirst {
			resp, err = m.ReportWhenDone(ctx, args[0])
		} else {
			resp, err = m.LastReports(ctx, args[0])
		}
		if err != nil {
			return err
		}

		if taskReportFile == "" {
			return printReport(cmd.OutOrStdout(), resp)
		}
		return writeReport(taskReportFile, resp)
	})
}

// printReport writes the report as omp returned it. omp already
// pretty-prints, and re-encoding would drop whitespace and namespaces.
func printReport(w io.Writer, resp *omp.Response) error {
	if _, err := w.Write(resp.Raw); err != nil {
		return err
	}
	if !bytes.HasSuffix(resp.Raw, []byte("\n")) {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

func writeReport(path string, resp *omp.Response) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, resp.Raw, reportFilePerm); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
