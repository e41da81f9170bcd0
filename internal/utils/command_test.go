package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCommand(t *testing.T) {
	data := CommandData{Root: "/srv/app", Target: "prod", Component: "backend", Label: "v1 (hotfix)"}

	out, err := RenderCommand("cd {{.Root}} && git checkout {{quote .Label}}", data)
	require.NoError(t, err)
	assert.Equal(t, "cd /srv/app && git checkout 'v1 (hotfix)'", out)

	_, err = RenderCommand("{{.Missing}}", data)
	assert.Error(t, err)

	_, err = RenderCommand("{{.Root", data)
	assert.Error(t, err)
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":              "''",
		"/srv/app-1.2":  "/srv/app-1.2",
		"a b":           "'a b'",
		"it's":          `'it'\''s'`,
		"$(rm -rf /)":   "'$(rm -rf /)'",
		"key=value,x@y": "key=value,x@y",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShellQuote(in), in)
	}
}
