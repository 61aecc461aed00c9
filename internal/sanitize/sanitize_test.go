package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripsDisallowedTags(t *testing.T) {
	s := New()
	got, err := s.Clean("<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestKeepsAllowedInlineMarkup(t *testing.T) {
	s := New()
	got, err := s.Clean("use <code>go test</code> and <i>read</i> the <strong>docs</strong>")
	require.NoError(t, err)
	assert.Contains(t, got, "<code>go test</code>")
	assert.Contains(t, got, "<i>read</i>")
	assert.Contains(t, got, "<strong>docs</strong>")
}

func TestKeepsLinkHrefAndTitle(t *testing.T) {
	s := New()
	got, err := s.Clean(`<a href="https://example.com" title="t">link</a>`)
	require.NoError(t, err)
	assert.Contains(t, got, `href="https://example.com"`)
	assert.Contains(t, got, `title="t"`)
}

func TestDropsUnsafeLinkSchemes(t *testing.T) {
	s := New()
	got, err := s.Clean(`<a href="javascript:alert(1)">x</a>`)
	require.NoError(t, err)
	assert.NotContains(t, got, "javascript")
	assert.NotContains(t, got, "href")
}

func TestDropsScript(t *testing.T) {
	s := New()
	got, err := s.Clean(`before<script>alert(1)</script>after`)
	require.NoError(t, err)
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "alert")
}

func TestRejectsUnbalancedMarkup(t *testing.T) {
	s := New()
	for _, input := range []string{
		"<i>oops",
		"broken</strong>",
		"<i><strong>crossed</i></strong>",
	} {
		_, err := s.Clean(input)
		assert.ErrorIs(t, err, ErrUnbalancedMarkup, "input %q", input)
	}
}

func TestPlainTextPassesThrough(t *testing.T) {
	s := New()
	got, err := s.Clean("  just text  ")
	require.NoError(t, err)
	assert.Equal(t, "just text", got)
}
