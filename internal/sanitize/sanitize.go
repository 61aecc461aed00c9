// Package sanitize cleans comment bodies down to a fixed allow-list of
// inline markup: <a href title>, <code>, <i>, <strong>.
package sanitize

import (
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var ErrUnbalancedMarkup = errors.New("unbalanced markup")

var tagPattern = regexp.MustCompile(`<(/?)([a-zA-Z]+)[^>]*>`)

type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href", "title").OnElements("a")
	// Without an allowed scheme list the URL enforcement that comes with
	// RequireNoFollowOnLinks drops every href.
	p.AllowURLSchemes("http", "https")
	p.AllowElements("code", "i", "strong")
	p.RequireNoFollowOnLinks(true)
	return &Sanitizer{policy: p}
}

// Clean strips disallowed markup and rejects input whose remaining tags do
// not nest properly. Stripped tags keep their inner text, so "<b>hi</b>"
// comes back as "hi".
func (s *Sanitizer) Clean(input string) (string, error) {
	cleaned := strings.TrimSpace(s.policy.Sanitize(input))
	if err := checkBalanced(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

func checkBalanced(text string) error {
	var stack []string
	for _, m := range tagPattern.FindAllStringSubmatch(text, -1) {
		closing := m[1] == "/"
		name := strings.ToLower(m[2])
		if !closing {
			stack = append(stack, name)
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != name {
			return ErrUnbalancedMarkup
		}
		stack = stack[:len(stack)-1]
	}
	if len(stack) != 0 {
		return ErrUnbalancedMarkup
	}
	return nil
}
