// Package omp is a thin client for the OpenVAS Management Protocol 7.0.
//
// Requests are built as XML documents and handed to an Executor. The
// default Executor, CommandExecutor, runs the external omp command-line
// client once per request; the protocol itself is not implemented here.
// Replies are parsed into generic Node trees wrapped in a Response.
//
// # Usage
//
//	exec := omp.NewCommandExecutor(omp.ExecutorConfig{Binary: "omp"}, nil)
//	client := omp.NewClient(exec)
//
//	target, err := client.CreateTarget(ctx, "192.168.1.0/24", "", "")
//	if err != nil {
//		return err
//	}
//	task, err := client.CreateTask(ctx, omp.CreateTaskRequest{
//		Name:     "weekly",
//		TargetID: target.ID(),
//	})
//	if err != nil {
//		return err
//	}
//	_, err = client.StartTask(ctx, task.ID())
//
// # Responses
//
// Response.Root exposes the reply element. Node.Find and Node.Text take
// slash separated paths, e.g. resp.Root.Text("task/status"). Typed helpers
// such as Response.Task cover the fields the connector itself needs.
package omp
