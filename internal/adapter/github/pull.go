// Package github posts run task summaries as pull request comments through the GitHub REST API.
package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
)

var pullURLPattern = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)/pull/(\d+)(?:[/?#].*)?$`)

// PullRequest identifies one pull request.
type PullRequest struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePullRequestURL extracts owner, repo and number from a pull request web URL
// such as https://github.com/acme/infra/pull/42.
func ParsePullRequestURL(u string) (PullRequest, error) {
	m := pullURLPattern.FindStringSubmatch(u)
	if m == nil {
		return PullRequest{}, fmt.Errorf("%w: not a pull request url: %q", domain.ErrMalformedInput, u)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return PullRequest{}, fmt.Errorf("%w: invalid pull request number %q", domain.ErrMalformedInput, m[3])
	}
	return PullRequest{Owner: m[1], Repo: m[2], Number: n}, nil
}

// CommentsEndpoint returns the issues comments endpoint for the pull request.
func (p PullRequest) CommentsEndpoint(apiURL string) string {
	return fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", strings.TrimRight(apiURL, "/"), p.Owner, p.Repo, p.Number)
}
