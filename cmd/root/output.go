package root

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"deploy-keeper/internal/models"
)

// PrintJSON 以缩进格式输出到标准输出
func PrintJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// NewTable 创建输出到标准输出的表格
func NewTable(header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func colorStatus(status string) string {
	switch status {
	case string(models.OutcomeSucceeded), string(models.StageOK), string(models.Healthy), string(models.StateRunning):
		return text.FgGreen.Sprint(status)
	case string(models.OutcomeRolledBack), string(models.StageSkipped), string(models.StateStarting):
		return text.FgYellow.Sprint(status)
	case string(models.StateUnknown):
		return status
	}
	return text.FgRed.Sprint(status)
}

/**
 * Print a DeploymentOutcome as a stage table followed by a summary
 * @param {*models.DeploymentOutcome} out - Outcome to print
 */
func PrintOutcome(out *models.DeploymentOutcome) {
	fmt.Printf("=== %s %s (run %s) ===\n", out.Operation, out.Target, out.RunID)
	t := NewTable("Stage", "Status", "Duration", "Message")
	for _, s := range out.Stages {
		t.AppendRow(table.Row{s.Stage, colorStatus(string(s.Status)), s.Duration.Round(time.Millisecond), text.Trim(s.Message, 100)})
	}
	t.Render()

	fmt.Printf("Status: %s\n", colorStatus(string(out.Status)))
	if out.Mode != "" {
		fmt.Printf("Mode: %s\n", out.Mode)
	}
	if out.BackupSnapshot != "" {
		fmt.Printf("Backup snapshot: %s\n", out.BackupSnapshot)
	}
	if out.RollbackSnapshot != "" {
		fmt.Printf("Restored snapshot: %s\n", out.RollbackSnapshot)
	}
	if out.SafetySnapshot != "" {
		fmt.Printf("Safety snapshot: %s\n", out.SafetySnapshot)
	}
	if out.Error != "" {
		fmt.Printf("Error (%s at %s): %s\n", out.ErrorKind, out.FailedStage, out.Error)
	}
}

// PrintVerdicts 输出健康检查结果
func PrintVerdicts(verdicts []models.HealthVerdict) {
	t := NewTable("Target", "Component", "Status", "Attempts", "Detail")
	for _, v := range verdicts {
		t.AppendRow(table.Row{v.Target, v.Component, colorStatus(string(v.Status)), v.Attempts, text.Trim(v.Raw, 80)})
	}
	t.Render()
}
