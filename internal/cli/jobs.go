package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/scheduler"
)

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List scheduled jobs and their next fire times",
		Long: `List every scheduled job with its cron expression and next fire time in
the operating timezone.

Example:
  cascade jobs --config /etc/cascade.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			return newFormatter(rootOpts, cmd).Success(jobList(app.Scheduler.Jobs()))
		},
	}
}

type jobList []scheduler.Status

func (l jobList) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-18s %-12s %s\n", "JOB", "SCHEDULE", "NEXT")
	for _, j := range l {
		fmt.Fprintf(&b, "%-18s %-12s %s\n", j.Name, j.Schedule, j.Next.Format("2006-01-02 15:04 MST"))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
