package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/omp"
)

// listFlags holds the --id and --filter flags of a read-only listing.
type listFlags struct {
	id     string
	filter string
}

var (
	scanConfigFlags listFlags
	portListFlags   listFlags
	resultFlags     listFlags
)

// scanConfigCmd represents the config command.
var scanConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect scan configs",
}

// portListCmd represents the port-list command.
var portListCmd = &cobra.Command{
	Use:   "port-list",
	Short: "Inspect port lists",
}

// resultCmd represents the result command.
var resultCmd = &cobra.Command{
	Use:   "result",
	Short: "Inspect scan results",
	Long: `Inspect scan results. Filters that apply notes or overrides must also
name a task, e.g. "task_id=<id> apply_overrides=1".`,
}

func init() {
	rootCmd.AddCommand(scanConfigCmd)
	rootCmd.AddCommand(portListCmd)
	rootCmd.AddCommand(resultCmd)

	scanConfigCmd.AddCommand(newListCmd("List scan configs", &scanConfigFlags,
		func(ctx context.Context, c *omp.Client, f listFlags) (*omp.Response, error) {
			return c.GetConfigs(ctx, f.id, f.filter)
		},
		"config",
		idColumn(),
		textColumn("Name", "name"),
		textColumn("Families", "family_count"),
		textColumn("NVTs", "nvt_count"),
		textColumn("Comment", "comment"),
	))

	portListCmd.AddCommand(newListCmd("List port lists", &portListFlags,
		func(ctx context.Context, c *omp.Client, f listFlags) (*omp.Response, error) {
			return c.GetPortLists(ctx, f.id, f.filter)
		},
		"port_list",
		idColumn(),
		textColumn("Name", "name"),
		textColumn("Ports", "port_count/all"),
		textColumn("Comment", "comment"),
	))

	resultCmd.AddCommand(newListCmd("List results", &resultFlags,
		func(ctx context.Context, c *omp.Client, f listFlags) (*omp.Response, error) {
			return c.GetResults(ctx, f.id, f.filter)
		},
		"result",
		idColumn(),
		textColumn("Name", "name"),
		valueColumn("Host", "host"),
		textColumn("Port", "port"),
		textColumn("Severity", "severity"),
		textColumn("Threat", "threat"),
	))
}

// newListCmd builds a "list" subcommand around a get_* call.
func newListCmd(
	short string,
	flags *listFlags,
	fetch func(ctx context.Context, c *omp.Client, f listFlags) (*omp.Response, error),
	kind string,
	columns ...column,
) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, _ *config.Config, client *omp.Client) error {
				resp, err := fetch(ctx, client, *flags)
				if err != nil {
					return err
				}
				return printList(cmd.OutOrStdout(), resp, kind, columns...)
			})
		},
	}
	cmd.Flags().StringVar(&flags.id, "id", "", "only show this entry")
	cmd.Flags().StringVar(&flags.filter, "filter", "", "OMP filter string")
	return cmd
}
