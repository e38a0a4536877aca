package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/openvas-connector/internal/config"
	"github.com/anstrom/openvas-connector/internal/logging"
	"github.com/anstrom/openvas-connector/internal/omp"
)

// ClientOperation is a command body that talks to the manager.
type ClientOperation func(ctx context.Context, cfg *config.Config, client *omp.Client) error

// newExecutor builds the transport for a command. Tests replace it.
var newExecutor = func(cfg *config.Config) omp.Executor {
	return omp.NewCommandExecutor(omp.ExecutorConfig{
		Binary:               cfg.OMP.Binary,
		Host:                 cfg.OMP.Host,
		Port:                 cfg.OMP.Port,
		Username:             cfg.OMP.Username,
		Password:             cfg.OMP.Password,
		ConfigFile:           cfg.OMP.ConfigFile,
		Timeout:              cfg.OMP.Timeout,
		MaxCommandsPerSecond: cfg.OMP.MaxCommandsPerSecond,
		TranscriptFile:       cfg.OMP.TranscriptFile,
	}, logging.Default())
}

// withClient loads the configuration, builds a client and runs operation
// with a context that is canceled on SIGINT or SIGTERM.
func withClient(cmd *cobra.Command, operation ClientOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := omp.NewClient(newExecutor(cfg), omp.WithLogger(logging.Default()))
	return operation(ctx, cfg, client)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// column renders one table cell from a response element.
type column struct {
	header string
	value  func(n *omp.Node) string
}

func idColumn() column {
	return column{"ID", func(n *omp.Node) string { return n.Attr("id") }}
}

func textColumn(header, path string) column {
	return column{header, func(n *omp.Node) string { return n.Text(path) }}
}

func valueColumn(header, path string) column {
	return column{header, func(n *omp.Node) string { return n.Find(path).Value() }}
}

// printList prints the kind elements of resp as a table, or the whole
// response as XML when --xml is set.
func printList(w io.Writer, resp *omp.Response, kind string, columns ...column) error {
	if xmlOutput {
		return printXML(w, resp)
	}

	headers := make([]any, 0, len(columns))
	for _, c := range columns {
		headers = append(headers, c.header)
	}

	table := tablewriter.NewWriter(w)
	table.Header(headers...)
	for _, n := range resp.Root.Children(kind) {
		row := make([]string, 0, len(columns))
		for _, c := range columns {
			row = append(row, c.value(n))
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// printXML writes the response re-indented.
func printXML(w io.Writer, resp *omp.Response) error {
	pretty, err := omp.PrettyXML(resp.Raw)
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	_, err = w.Write(pretty)
	return err
}

// printStatus reports the outcome of a create, delete, start or stop
// command.
func printStatus(w io.Writer, resp *omp.Response, action string) error {
	if xmlOutput {
		return printXML(w, resp)
	}
	msg := fmt.Sprintf("%s: %s %s", action, resp.Status(), resp.StatusText())
	if id := resp.ID(); id != "" {
		msg += fmt.Sprintf(" (id: %s)", id)
	}
	_, err := fmt.Fprintln(w, msg)
	return err
}
