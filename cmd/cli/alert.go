package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/omp"
)

var (
	alertName      string
	alertComment   string
	alertCondition clauseFlags
	alertEvent     clauseFlags
	alertMethod    clauseFlags

	alertStatus string
	alertURL    string

	alertID     string
	alertFilter string
)

// clauseFlags collects the three flags that describe one alert clause.
type clauseFlags struct {
	value    string
	data     string
	dataName string
}

func (c clauseFlags) clause() omp.AlertClause {
	return omp.AlertClause{Value: c.value, Data: c.data, DataName: c.dataName}
}

// alertCmd represents the alert command.
var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage alerts",
	Long: `Create, list and delete alerts, and wait for the HTTP alert that marks
a finished task.`,
	Example: `  openvas-connector alert create-http --name task-done --url http://10.0.0.5:8081
  openvas-connector alert wait
  openvas-connector alert list`,
}

// alertCreateCmd represents the alert create command.
var alertCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an alert",
	Long: `Create an alert from a condition, an event and a method. Each clause may
carry a data element, which is only sent when both its data and data name
are given.`,
	Example: `  openvas-connector alert create --name mail --condition Always \
    --event "Task run status changed" --event-data Done --event-data-name status \
    --method Email --method-data ops@example.org --method-data-name to_address`,
	RunE: runAlertCreate,
}

// alertCreateHTTPCmd represents the alert create-http command.
var alertCreateHTTPCmd = &cobra.Command{
	Use:   "create-http",
	Short: "Create an HTTP Get alert for task status changes",
	Long: `Create an alert that calls <url>/task_done when a task reaches the
given status. The url defaults to the webhook callback URL from the config.`,
	RunE: runAlertCreateHTTP,
}

// alertDeleteCmd represents the alert delete command.
var alertDeleteCmd = &cobra.Command{
	Use:   "delete <alert-id>",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertDelete,
}

// alertListCmd represents the alert list command.
var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE:  runAlertList,
}

// alertWaitCmd represents the alert wait command.
var alertWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the task done HTTP alert",
	Long: `Listen on the configured webhook address until a GET request whose path
ends with the configured path arrives.`,
	RunE: runAlertWait,
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertCreateCmd)
	alertCmd.AddCommand(alertCreateHTTPCmd)
	alertCmd.AddCommand(alertDeleteCmd)
	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertWaitCmd)

	flags := alertCreateCmd.Flags()
	flags.StringVar(&alertName, "name", "", "alert name")
	flags.StringVar(&alertComment, "comment", "", "alert comment")
	addClauseFlags(alertCreateCmd, "condition", &alertCondition)
	addClauseFlags(alertCreateCmd, "event", &alertEvent)
	addClauseFlags(alertCreateCmd, "method", &alertMethod)
	_ = alertCreateCmd.MarkFlagRequired("name")

	alertCreateHTTPCmd.Flags().StringVar(&alertName, "name", "", "alert name")
	alertCreateHTTPCmd.Flags().StringVar(&alertStatus, "status", omp.DefaultAlertStatus, "task status that triggers the alert")
	alertCreateHTTPCmd.Flags().StringVar(&alertURL, "url", "", "base URL of the listener (default: webhook callback URL)")
	_ = alertCreateHTTPCmd.MarkFlagRequired("name")

	alertListCmd.Flags().StringVar(&alertID, "id", "", "only show this alert")
	alertListCmd.Flags().StringVar(&alertFilter, "filter", "", "OMP filter string")
}

func addClauseFlags(cmd *cobra.Command, name string, c *clauseFlags) {
	cmd.Flags().StringVar(&c.value, name, "", name+" text")
	cmd.Flags().StringVar(&c.data, name+"-data", "", name+" data value")
	cmd.Flags().StringVar(&c.dataName, name+"-data-name", "", name+" data name")
	_ = cmd.MarkFlagRequired(name)
}

func runAlertCreate(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.CreateAlert(ctx, alertName,
			alertCondition.clause(), alertEvent.clause(), alertMethod.clause(), alertComment)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Alert created")
	})
}

func runAlertCreateHTTP(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, cfg *config.Config, client *omp.Client) error {
		url := alertURL
		if url == "" {
			url = cfg.GetCallbackURL()
		}
		resp, err := client.CreateHTTPAlert(ctx, alertName, alertStatus, url)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Alert created")
	})
}

func runAlertDelete(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.DeleteAlert(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Alert deleted")
	})
}

func runAlertList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.GetAlerts(ctx, alertID, alertFilter)
		if err != nil {
			return err
		}
		return printList(cmd.OutOrStdout(), resp, "alert",
			idColumn(),
			textColumn("Name", "name"),
			valueColumn("Condition", "condition"),
			valueColumn("Event", "event"),
			valueColumn("Method", "method"),
		)
	})
}

func runAlertWait(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, cfg *config.Config, _ *omp.Client) error {
		logging.Info("Waiting for task done alert", "address", cfg.GetWebhookAddress(), "path", cfg.Webhook.Path)
		n, err := newReceiver(cfg).Wait(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Alert received from %s on %s\n", n.RemoteAddr, n.Path)
		return err
	})
}
