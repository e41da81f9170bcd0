package utils

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

/**
 * Values available to command templates
 * @property {string} Root - Deployment root on the target
 * @property {string} BackupRoot - Snapshot directory on the target
 * @property {string} Target - Target name
 * @property {string} Component - backend/frontend, empty outside component commands
 * @property {string} Script - Migration script path, only set for migration commands
 * @property {string} Label - Plan label (e.g. git revision)
 */
type CommandData struct {
	Root       string
	BackupRoot string
	Target     string
	Component  string
	Script     string
	Label      string
}

/**
 * Render a configured command template
 * @param {string} command - Go text/template, e.g. "git -C {{.Root}} pull"
 * @param {interface{}} data - Template data, normally CommandData
 * @returns {string} Rendered command line
 * @description
 * - The `quote` function shell-quotes a value: {{quote .Label}}
 * - Missing keys are an error instead of rendering "<no value>"
 */
func RenderCommand(command string, data interface{}) (string, error) {
	tmpl, err := template.New("command").
		Funcs(template.FuncMap{"quote": ShellQuote}).
		Option("missingkey=error").
		Parse(command)
	if err != nil {
		return "", fmt.Errorf("failed to parse command template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute command template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ShellQuote wraps s in single quotes so a POSIX shell treats it as one word.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./:@%+=,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
