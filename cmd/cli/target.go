package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/omp"
)

var (
	targetHosts   string
	targetName    string
	targetComment string
	targetID      string
	targetFilter  string
)

// targetCmd represents the target command.
var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage scan targets",
	Long:  `Create, list and delete the host sets that scan tasks run against.`,
	Example: `  openvas-connector target create --hosts 192.168.1.0/24 --name office
  openvas-connector target list
  openvas-connector target delete b493b7a8-7489-11df-a3ec-002264764cea`,
}

// targetCreateCmd represents the target create command.
var targetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a target",
	Long: `Create a target from a comma separated host list. The target name
defaults to the host list.`,
	RunE: runTargetCreate,
}

// targetDeleteCmd represents the target delete command.
var targetDeleteCmd = &cobra.Command{
	Use:   "delete <target-id>",
	Short: "Delete a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetDelete,
}

// targetListCmd represents the target list command.
var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets",
	RunE:  runTargetList,
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetCreateCmd)
	targetCmd.AddCommand(targetDeleteCmd)
	targetCmd.AddCommand(targetListCmd)

	targetCreateCmd.Flags().StringVar(&targetHosts, "hosts", "", "hosts to scan, e.g. 10.0.0.1,10.0.1.0/24")
	targetCreateCmd.Flags().StringVar(&targetName, "name", "", "target name (default: the host list)")
	targetCreateCmd.Flags().StringVar(&targetComment, "comment", "", "target comment")
	_ = targetCreateCmd.MarkFlagRequired("hosts")

	targetListCmd.Flags().StringVar(&targetID, "id", "", "only show this target")
	targetListCmd.Flags().StringVar(&targetFilter, "filter", "", "OMP filter string")
}

func runTargetCreate(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.CreateTarget(ctx, targetHosts, targetName, targetComment)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Target created")
	})
}

func runTargetDelete(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.DeleteTarget(ctx, args[0])
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), resp, "Target deleted")
	})
}

func runTargetList(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
		resp, err := client.GetTargets(ctx, targetID, targetFilter)
		if err != nil {
			return err
		}
		return printList(cmd.OutOrStdout(), resp, "target",
			idColumn(),
			textColumn("Name", "name"),
			textColumn("Hosts", "hosts"),
			textColumn("Comment", "comment"),
		)
	})
}
