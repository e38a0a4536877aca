package omp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalString(t *testing.T, req Request) string {
	t.Helper()
	out, err := Marshal(req)
	require.NoError(t, err)
	return string(out)
}

func TestCreateAlertRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *CreateAlertRequest
		want string
	}{
		{
			name: "http alert defaults",
			req:  HTTPAlertRequest("done-hook", "", ""),
			want: `<create_alert><name>done-hook</name><condition>Always</condition>` +
				`<event>Task run status changed<data>Done<name>status</name></data></event>` +
				`<method>HTTP Get<data>http://127.0.0.1:8081/task_done<name>URL</name></data></method>` +
				`<comment></comment></create_alert>`,
		},
		{
			name: "http alert custom status and trailing slash",
			req:  HTTPAlertRequest("hook", "Stopped", "http://10.0.0.2:9000/"),
			want: `<create_alert><name>hook</name><condition>Always</condition>` +
				`<event>Task run status changed<data>Stopped<name>status</name></data></event>` +
				`<method>HTTP Get<data>http://10.0.0.2:9000/task_done<name>URL</name></data></method>` +
				`<comment></comment></create_alert>`,
		},
		{
			name: "data without name is omitted",
			req: &CreateAlertRequest{
				Name:      "a",
				Condition: AlertClause{Value: "Always", Data: "x"},
				Event:     AlertClause{Value: "New SecInfo arrived", DataName: "secinfo_type"},
				Method:    AlertClause{Value: "Email"},
				Comment:   "ops & security",
			},
			want: `<create_alert><name>a</name><condition>Always</condition>` +
				`<event>New SecInfo arrived</event><method>Email</method>` +
				`<comment>ops &amp; security</comment></create_alert>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, marshalString(t, tt.req))
		})
	}
}

func TestCreateTargetRequest(t *testing.T) {
	req := &CreateTargetRequest{Name: "lan", Hosts: "192.168.0.0/24"}
	assert.Equal(t,
		`<create_target><name>lan</name><comment></comment><hosts>192.168.0.0/24</hosts></create_target>`,
		marshalString(t, req))
}

func TestCreateTaskRequest(t *testing.T) {
	t.Run("default config and no alert", func(t *testing.T) {
		req := &CreateTaskRequest{Name: "weekly", TargetID: "b493b7a8-7489-11df-a3ec-002264764cea"}
		assert.Equal(t,
			`<create_task><name>weekly</name>`+
				`<target id="b493b7a8-7489-11df-a3ec-002264764cea"></target>`+
				`<config id="daba56c8-73ec-11df-a475-002264764cea"></config>`+
				`<alert></alert><comment></comment></create_task>`,
			marshalString(t, req))
	})

	t.Run("explicit config alert and comment", func(t *testing.T) {
		req := &CreateTaskRequest{
			Name:     "nightly",
			TargetID: "b493b7a8-7489-11df-a3ec-002264764cea",
			ConfigID: "708f25c4-7489-11df-8094-002264764cea",
			AlertID:  "2f4a1f10-9b6e-4c1b-8d6a-0c3f2d1e4b5a",
			Comment:  "prod",
		}
		assert.Equal(t,
			`<create_task><name>nightly</name>`+
				`<target id="b493b7a8-7489-11df-a3ec-002264764cea"></target>`+
				`<config id="708f25c4-7489-11df-8094-002264764cea"></config>`+
				`<alert id="2f4a1f10-9b6e-4c1b-8d6a-0c3f2d1e4b5a"></alert>`+
				`<comment>prod</comment></create_task>`,
			marshalString(t, req))
	})
}

func TestCommand(t *testing.T) {
	t.Run("optional attributes", func(t *testing.T) {
		assert.Equal(t, `<get_tasks></get_tasks>`, marshalString(t, getCommand("get_tasks", "task_id", "", "")))
		assert.Equal(t, `<get_configs filter="name=Full"></get_configs>`,
			marshalString(t, getCommand("get_configs", "config_id", "", "name=Full")))
		assert.Equal(t, `<get_port_lists port_list_id="p1" filter="rows=5"></get_port_lists>`,
			marshalString(t, getCommand("get_port_lists", "port_list_id", "p1", "rows=5")))
	})

	t.Run("set replaces", func(t *testing.T) {
		cmd := NewCommand("stop_task").Set("task_id", "a").Set("task_id", "b")
		assert.Equal(t, "b", cmd.Get("task_id"))
		assert.Len(t, cmd.Attrs, 1)
		assert.Equal(t, `<stop_task task_id="b"></stop_task>`, marshalString(t, cmd))
	})

	t.Run("attribute escaping", func(t *testing.T) {
		cmd := NewCommand("get_results").Set("filter", `name="x" & y<2`)
		assert.Equal(t, `<get_results filter="name=&#34;x&#34; &amp; y&lt;2"></get_results>`, marshalString(t, cmd))
	})
}

func TestReportQuery(t *testing.T) {
	tests := []struct {
		name  string
		query ReportQuery
		want  string
		delta bool
	}{
		{
			name:  "no attributes",
			query: ReportQuery{},
			want:  `<get_reports></get_reports>`,
		},
		{
			name:  "report with format",
			query: ReportQuery{ReportID: "r1", Format: "a994b278-1f62-11e1-96ac-406186ea4fc5"},
			want:  `<get_reports report_id="r1" format="a994b278-1f62-11e1-96ac-406186ea4fc5"></get_reports>`,
		},
		{
			name:  "delta with report and task filter",
			query: ReportQuery{ReportID: "r1", Filter: "task_id=t1 rows=1000", DeltaReportID: "r2"},
			want:  `<get_reports report_id="r1" filter="task_id=t1 rows=1000" delta_report_id="r2"></get_reports>`,
			delta: true,
		},
		{
			name:  "delta dropped without report id",
			query: ReportQuery{Filter: "task_id=t1", DeltaReportID: "r2"},
			want:  `<get_reports filter="task_id=t1"></get_reports>`,
		},
		{
			name:  "delta dropped without task filter",
			query: ReportQuery{ReportID: "r1", Filter: "rows=10", DeltaReportID: "r2"},
			want:  `<get_reports report_id="r1" filter="rows=10"></get_reports>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, marshalString(t, tt.query.Command()))
			assert.Equal(t, tt.delta, tt.query.DeltaAllowed())
		})
	}
}

func TestCommandNames(t *testing.T) {
	assert.Equal(t, "create_alert", (&CreateAlertRequest{}).CommandName())
	assert.Equal(t, "create_target", (&CreateTargetRequest{}).CommandName())
	assert.Equal(t, "create_task", (&CreateTaskRequest{}).CommandName())
	assert.Equal(t, "get_reports", ReportQuery{}.Command().CommandName())
}
