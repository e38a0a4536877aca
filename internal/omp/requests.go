package omp

import (
	"encoding/xml"
	"strings"
)

// DefaultConfigID is the scan config used when a task names none
// ("Full and fast").
const DefaultConfigID = "daba56c8-73ec-11df-a475-002264764cea"

// Values used by CreateHTTPAlert.
const (
	DefaultAlertStatus   = "Done"
	DefaultAlertURL      = "http://127.0.0.1:8081"
	TaskDonePath         = "/task_done"
	conditionAlways      = "Always"
	eventStatusChanged   = "Task run status changed"
	methodHTTPGet        = "HTTP Get"
	eventStatusDataName  = "status"
	methodURLDataName    = "URL"
	deltaReportFilterKey = "task_id="
)

// Request is an OMP command document.
type Request interface {
	CommandName() string
}

// Command is a request made of a single element with attributes only,
// which covers every get_*, delete_*, start_task and stop_task command.
type Command struct {
	Name  string
	Attrs []xml.Attr
}

// NewCommand returns an attribute-only command element.
func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// CommandName implements Request.
func (c *Command) CommandName() string {
	return c.Name
}

// Set adds an attribute, replacing any previous value.
func (c *Command) Set(name, value string) *Command {
	for i := range c.Attrs {
		if c.Attrs[i].Name.Local == name {
			c.Attrs[i].Value = value
			return c
		}
	}
	c.Attrs = append(c.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	return c
}

// SetOptional adds an attribute only when value is non-empty.
func (c *Command) SetOptional(name, value string) *Command {
	if value == "" {
		return c
	}
	return c.Set(name, value)
}

// Get returns an attribute value.
func (c *Command) Get(name string) string {
	for _, a := range c.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// MarshalXML writes <name attr="..."/>.
func (c *Command) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: c.Name}, Attr: c.Attrs}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// AlertClause is the condition, event or method part of an alert: a text
// value with an optional named data element.
type AlertClause struct {
	Value    string `validate:"required"`
	Data     string
	DataName string
}

// HasData reports whether the clause carries a <data> element.
func (a AlertClause) HasData() bool {
	return a.Data != "" && a.DataName != ""
}

// MarshalXML writes the clause as Value<data>Data<name>DataName</name></data>.
func (a AlertClause) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if a.Value != "" {
		if err := e.EncodeToken(xml.CharData(a.Value)); err != nil {
			return err
		}
	}
	if a.HasData() {
		data := xml.StartElement{Name: xml.Name{Local: "data"}}
		if err := e.EncodeToken(data); err != nil {
			return err
		}
		if err := e.EncodeToken(xml.CharData(a.Data)); err != nil {
			return err
		}
		if err := e.EncodeElement(a.DataName, xml.StartElement{Name: xml.Name{Local: "name"}}); err != nil {
			return err
		}
		if err := e.EncodeToken(data.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// CreateAlertRequest is the create_alert command.
type CreateAlertRequest struct {
	XMLName   xml.Name    `xml:"create_alert"`
	Name      string      `xml:"name" validate:"required"`
	Condition AlertClause `xml:"condition"`
	Event     AlertClause `xml:"event"`
	Method    AlertClause `xml:"method"`
	Comment   string      `xml:"comment"`
}

// CommandName implements Request.
func (*CreateAlertRequest) CommandName() string { return "create_alert" }

// HTTPAlertRequest builds an alert that issues an HTTP GET to url+"/task_done"
// whenever a task's run status changes to status.
func HTTPAlertRequest(name, status, url string) *CreateAlertRequest {
	if status == "" {
		status = DefaultAlertStatus
	}
	if url == "" {
		url = DefaultAlertURL
	}
	return &CreateAlertRequest{
		Name:      name,
		Condition: AlertClause{Value: conditionAlways},
		Event: AlertClause{
			Value:    eventStatusChanged,
			Data:     status,
			DataName: eventStatusDataName,
		},
		Method: AlertClause{
			Value:    methodHTTPGet,
			Data:     strings.TrimSuffix(url, "/") + TaskDonePath,
			DataName: methodURLDataName,
		},
	}
}

// CreateTargetRequest is the create_target command. An empty Name is
// replaced with Hosts by the client.
type CreateTargetRequest struct {
	XMLName xml.Name `xml:"create_target"`
	Name    string   `xml:"name" validate:"required"`
	Comment string   `xml:"comment"`
	Hosts   string   `xml:"hosts" validate:"required"`
}

// CommandName implements Request.
func (*CreateTargetRequest) CommandName() string { return "create_target" }

// CreateTaskRequest is the create_task command.
type CreateTaskRequest struct {
	Name     string `validate:"required"`
	TargetID string `validate:"required,uuid"`
	ConfigID string `validate:"omitempty,uuid"`
	AlertID  string `validate:"omitempty,uuid"`
	Comment  string
}

// CommandName implements Request.
func (*CreateTaskRequest) CommandName() string { return "create_task" }

type idRef struct {
	ID string `xml:"id,attr,omitempty"`
}

type createTaskXML struct {
	XMLName xml.Name `xml:"create_task"`
	Name    string   `xml:"name"`
	Target  idRef    `xml:"target"`
	Config  idRef    `xml:"config"`
	Alert   idRef    `xml:"alert"`
	Comment string   `xml:"comment"`
}

// MarshalXML writes the task with id references for target, config and
// alert. The config falls back to DefaultConfigID.
func (r *CreateTaskRequest) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	configID := r.ConfigID
	if configID == "" {
		configID = DefaultConfigID
	}
	return e.EncodeElement(createTaskXML{
		Name:    r.Name,
		Target:  idRef{ID: r.TargetID},
		Config:  idRef{ID: configID},
		Alert:   idRef{ID: r.AlertID},
		Comment: r.Comment,
	}, xml.StartElement{Name: xml.Name{Local: "create_task"}})
}

// ReportQuery selects reports for get_reports.
type ReportQuery struct {
	ReportID string
	// Format is a report format id; non-XML formats come back base64 encoded.
	Format        string
	Filter        string
	DeltaReportID string
}

// DeltaAllowed reports whether the manager can honour DeltaReportID: it
// needs both a report id and a task_id term in the filter.
func (q ReportQuery) DeltaAllowed() bool {
	return q.ReportID != "" && strings.Contains(q.Filter, deltaReportFilterKey)
}

// Command converts the query to a get_reports element. The delta report id
// is dropped when DeltaAllowed is false.
func (q ReportQuery) Command() *Command {
	cmd := NewCommand("get_reports").
		SetOptional("report_id", q.ReportID).
		SetOptional("format", q.Format).
		SetOptional("filter", q.Filter)
	if q.DeltaReportID != "" && q.DeltaAllowed() {
		cmd.Set("delta_report_id", q.DeltaReportID)
	}
	return cmd
}

// getCommand builds get_<kind>s with optional <kind>_id and filter.
func getCommand(name, idAttr, id, filter string) *Command {
	return NewCommand(name).SetOptional(idAttr, id).SetOptional("filter", filter)
}

// Marshal encodes a request as a compact XML document.
func Marshal(req Request) ([]byte, error) {
	return xml.Marshal(req)
}
