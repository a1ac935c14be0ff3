package github

import (
	"fmt"
	"strings"

	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
)

// FormatComment renders a task result as the Markdown body of a pull request comment.
func FormatComment(ev runtask.Event, res runtask.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## HCP Terraform run task: %s\n\n", res.Status)
	fmt.Fprintf(&b, "**Workspace:** %s/%s  \n", ev.OrganizationName, ev.WorkspaceName)
	fmt.Fprintf(&b, "**Run:** %s (%s)\n\n", ev.RunID, ev.Stage)
	if res.Message != "" {
		b.WriteString(res.Message)
		b.WriteString("\n\n")
	}
	for _, o := range res.Outcomes {
		fmt.Fprintf(&b, "<details><summary>%s</summary>\n\n", o.Description)
		b.WriteString(runtask.ConvertToMarkdown(o.Body))
		b.WriteString("\n\n</details>\n\n")
	}
	if ev.RunAppURL != "" {
		fmt.Fprintf(&b, "[View run in HCP Terraform](%s)\n", ev.RunAppURL)
	}
	return b.String()
}
