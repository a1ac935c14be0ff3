package runtask

import "strings"

var markdownReplacer = strings.NewReplacer(
	"\n", "<br>",
	"##", "<br>##",
	"*", "<br>*",
)

// ConvertToMarkdown adapts LLM output for the HCP Terraform outcome renderer,
// which collapses plain newlines. Runs of breaks collapse to one, so converting
// twice yields the same text.
func ConvertToMarkdown(s string) string {
	s = markdownReplacer.Replace(s)
	for strings.Contains(s, "<br><br>") {
		s = strings.ReplaceAll(s, "<br><br>", "<br>")
	}
	return s
}
