package services

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"deploy-keeper/internal/config"
	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

const migrationLedger = ".migrations"

var migrationName = regexp.MustCompile(`^(\d+)_`)

/**
 * MigrationRunner applies forward-only migration scripts on a target
 * @description
 * - Scripts are files named NNN_description in the configured directory, applied in numeric order
 * - Applied script names are appended to <BackupRoot>/.migrations, which is never pruned or restored
 * - The first failing script stops the list; scripts already applied stay applied
 */
type MigrationRunner struct {
	exec executor.Executor
	cfg  config.MigrationConfig
}

func NewMigrationRunner(exec executor.Executor, cfg config.MigrationConfig) *MigrationRunner {
	return &MigrationRunner{exec: exec, cfg: cfg}
}

func (m *MigrationRunner) ledgerPath(target *models.Target) string {
	return path.Join(target.BackupRoot, migrationLedger)
}

// sortMigrations orders by numeric prefix, so 10_x runs after 9_x, then by name.
func sortMigrations(names []string) {
	num := func(n string) int {
		v, _ := strconv.Atoi(migrationName.FindStringSubmatch(n)[1])
		return v
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, b := num(names[i]), num(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}

/**
 * List scripts not yet recorded in the ledger
 * @returns {[]string} Script file names in apply order
 */
func (m *MigrationRunner) Pending(ctx context.Context, target *models.Target, data utils.CommandData) ([]string, error) {
	if m.cfg.Dir == "" {
		return nil, nil
	}
	dir, err := utils.RenderCommand(m.cfg.Dir, data)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf("cd %s 2>/dev/null && ls -1; echo '--'; cat %s 2>/dev/null; true",
		utils.ShellQuote(dir), utils.ShellQuote(m.ledgerPath(target)))
	res, err := m.exec.Execute(ctx, target, script, 0)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	listing, ledger, _ := strings.Cut(res.Stdout, "--\n")
	applied := make(map[string]bool)
	for _, line := range strings.Split(ledger, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			applied[line] = true
		}
	}
	var pending []string
	for _, name := range strings.Split(listing, "\n") {
		name = strings.TrimSpace(name)
		if !migrationName.MatchString(name) || applied[name] {
			continue
		}
		pending = append(pending, name)
	}
	sortMigrations(pending)
	return pending, nil
}

/**
 * Apply pending migrations
 * @returns {[]string} Scripts applied by this call
 * @returns {error} Error of the first failing script
 */
func (m *MigrationRunner) Apply(ctx context.Context, target *models.Target, data utils.CommandData) ([]string, error) {
	if m.cfg.Dir == "" || m.cfg.Command == "" {
		return nil, nil
	}
	pending, err := m.Pending(ctx, target, data)
	if err != nil {
		return nil, err
	}
	dir, err := utils.RenderCommand(m.cfg.Dir, data)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range pending {
		d := data
		d.Script = path.Join(dir, name)
		command, err := utils.RenderCommand(m.cfg.Command, d)
		if err != nil {
			return applied, err
		}
		logger.Infof("[%s] applying migration %s", target.Name, name)
		if _, err := m.exec.Execute(ctx, target, command, m.cfg.Timeout); err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		record := fmt.Sprintf("mkdir -p %s && printf '%%s\\n' %s >> %s",
			utils.ShellQuote(target.BackupRoot), utils.ShellQuote(name), utils.ShellQuote(m.ledgerPath(target)))
		if _, err := m.exec.Execute(ctx, target, record, 0); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
