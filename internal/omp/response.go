package omp

import (
	"strconv"
	"strings"

	"github.com/anstrom/openvas-connector/internal/errors"
)

// Response is a parsed manager reply.
type Response struct {
	Command string
	Root    *Node
	Raw     []byte
}

// ParseResponse parses the output of the omp client for command.
func ParseResponse(command string, data []byte) (*Response, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.NewCommandError(errors.CodeParse, "empty response", command)
	}
	root, err := ParseNode(data)
	if err != nil {
		return nil, errors.WrapCommandError(errors.CodeParse, "malformed response", command, err)
	}
	return &Response{Command: command, Root: root, Raw: data}, nil
}

// Status returns the status attribute of the response element.
func (r *Response) Status() string {
	return r.Root.Attr("status")
}

// StatusText returns the status_text attribute of the response element.
func (r *Response) StatusText() string {
	return r.Root.Attr("status_text")
}

// ID returns the id attribute that create_* responses carry.
func (r *Response) ID() string {
	return r.Root.Attr("id")
}

// OK reports a 2xx status. Replies without a status attribute are treated
// as successful.
func (r *Response) OK() bool {
	status := r.Status()
	return status == "" || strings.HasPrefix(status, "2")
}

// Err returns a CodeRejected error for non-2xx replies.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return errors.NewCommandError(errors.CodeRejected, "command rejected by manager", r.Command).
		WithStatus(r.Status(), r.StatusText())
}

// Entity is the id/name/comment triple shared by all listed OMP resources.
type Entity struct {
	ID      string
	Name    string
	Comment string
}

// Task is the subset of a get_tasks task element the connector acts on.
type Task struct {
	Entity
	Status             string
	Progress           int
	LastReportID       string
	SecondLastReportID string
	FinishedReports    int
}

// Task returns the first task of a get_tasks response.
func (r *Response) Task() (*Task, error) {
	n := r.Root.Child("task")
	if n == nil {
		return nil, errors.NewCommandError(errors.CodeUnexpected, "response contains no task", r.Command)
	}
	t := taskFromNode(n)
	return &t, nil
}

func taskFromNode(n *Node) Task {
	return Task{
		Entity: Entity{
			ID:      n.Attr("id"),
			Name:    n.Text("name"),
			Comment: n.Text("comment"),
		},
		Status:             n.Text("status"),
		Progress:           atoiOr(n.Text("progress"), 0),
		LastReportID:       n.AttrAt("last_report/report", "id"),
		SecondLastReportID: n.AttrAt("second_last_report/report", "id"),
		FinishedReports:    atoiOr(n.Text("report_count/finished"), 0),
	}
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
