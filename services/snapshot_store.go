package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deploy-keeper/internal/executor"
	"deploy-keeper/internal/logger"
	"deploy-keeper/internal/models"
	"deploy-keeper/internal/utils"
)

const (
	// 固定宽度，字典序即时间顺序
	snapshotIDLayout  = "20060102T150405.000000Z"
	snapshotMetaFile  = "meta.json"
	sourceMissingExit = 66
	defaultPageSize   = 20
)

// LatestSnapshot resolves to the newest backup snapshot of a target.
const LatestSnapshot = "latest"

var snapshotIDPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]*$`)

/**
 * SnapshotStore keeps point-in-time copies of directories under a target's backup root
 * @description
 * - Layout: <BackupRoot>/<id>/data holds the copy, <BackupRoot>/<id>/meta.json describes it
 * - A snapshot is written to <BackupRoot>/.tmp-<id> and renamed into place, names starting
 *   with "." are never listed, so a half written snapshot is never visible
 * - Pins are held in memory by the run that needs the snapshot and protect it from Prune
 */
type SnapshotStore struct {
	exec     executor.Executor
	settings atomic.Pointer[StoreSettings]

	mu     sync.Mutex
	lastID map[string]string
	pins   map[string]map[string]int
	now    func() time.Time
}

// StoreSettings are the tunables of a SnapshotStore. They are replaced as a whole,
// an operation reads them once and keeps that copy until it returns.
type StoreSettings struct {
	PageSize       int
	CommandTimeout time.Duration
	CopyTimeout    time.Duration
}

func NewSnapshotStore(exec executor.Executor) *SnapshotStore {
	s := &SnapshotStore{
		exec:   exec,
		lastID: make(map[string]string),
		pins:   make(map[string]map[string]int),
		now:    time.Now,
	}
	s.Configure(StoreSettings{
		PageSize:       defaultPageSize,
		CommandTimeout: executor.DefaultTimeout,
		CopyTimeout:    30 * time.Minute,
	})
	return s
}

// Configure 替换配置，进行中的操作继续使用它开始时读到的值
func (s *SnapshotStore) Configure(settings StoreSettings) {
	if settings.PageSize <= 0 {
		settings.PageSize = defaultPageSize
	}
	s.settings.Store(&settings)
}

func (s *SnapshotStore) Settings() StoreSettings {
	return *s.settings.Load()
}

func snapshotError(kind models.SnapshotErrorKind, id, p string, err error) error {
	return &models.SnapshotError{Kind: kind, ID: id, Path: p, Err: err}
}

func validSnapshotID(id string) bool {
	return snapshotIDPattern.MatchString(id)
}

// nextID returns an id later than both floor and anything this store issued for target.
func (s *SnapshotStore) nextID(target, floor string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := s.lastID[target]; last > floor {
		floor = last
	}
	now := s.now().UTC()
	id := now.Format(snapshotIDLayout)
	if id <= floor {
		if t, err := time.Parse(snapshotIDLayout, floor); err == nil {
			id = t.Add(time.Microsecond).Format(snapshotIDLayout)
		}
	}
	s.lastID[target] = id
	return id
}

/**
 * Create a backup snapshot of sourcePath on target
 * @param {string} sourcePath - Directory (or file) to copy
 * @param {string} label - Free text stored with the snapshot
 * @returns {*models.Snapshot} The new snapshot, already listable
 * @returns {error} *models.SnapshotError of kind SourceMissing, InsufficientSpace or CopyFailed
 */
func (s *SnapshotStore) Create(ctx context.Context, target *models.Target, sourcePath, label string) (*models.Snapshot, error) {
	return s.create(ctx, target, sourcePath, label, models.SnapshotBackup)
}

func (s *SnapshotStore) create(ctx context.Context, target *models.Target, sourcePath, label string, kind models.SnapshotKind) (*models.Snapshot, error) {
	cfg := s.Settings()
	src := utils.ShellQuote(sourcePath)
	br := utils.ShellQuote(target.BackupRoot)

	preflight := fmt.Sprintf(`[ -e %s ] || exit %d
mkdir -p %s || exit 1
need=$(du -sk %s | cut -f1)
free=$(df -Pk %s | awk 'NR==2 {print $4}')
echo "$need $free"
ls -1 %s | grep -v '^\.' | sort | tail -n 1`, src, sourceMissingExit, br, src, br, br)

	res, err := s.exec.Execute(ctx, target, preflight, cfg.CommandTimeout)
	if err != nil {
		if models.IsNonZeroExit(err) && res != nil && res.ExitCode == sourceMissingExit {
			return nil, snapshotError(models.SnapshotSourceMissing, "", sourcePath, nil)
		}
		return nil, snapshotError(models.SnapshotCopyFailed, "", sourcePath, err)
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	fields := strings.Fields(lines[0])
	if len(fields) != 2 {
		return nil, snapshotError(models.SnapshotCopyFailed, "", sourcePath, fmt.Errorf("unexpected space report %q", lines[0]))
	}
	needKB, err1 := strconv.ParseInt(fields[0], 10, 64)
	freeKB, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, snapshotError(models.SnapshotCopyFailed, "", sourcePath, fmt.Errorf("unexpected space report %q", lines[0]))
	}
	if needKB > freeKB {
		return nil, snapshotError(models.SnapshotInsufficientSpace, "", target.BackupRoot,
			fmt.Errorf("need %d KiB, %d KiB free", needKB, freeKB))
	}
	newest := ""
	if len(lines) > 1 {
		newest = strings.TrimSpace(lines[len(lines)-1])
	}

	snap := &models.Snapshot{
		ID:        s.nextID(target.Name, newest),
		Source:    sourcePath,
		Size:      needKB * 1024,
		Label:     label,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
	}
	meta, err := json.Marshal(snap)
	if err != nil {
		return nil, snapshotError(models.SnapshotCopyFailed, snap.ID, sourcePath, err)
	}
	tmp := utils.ShellQuote(path.Join(target.BackupRoot, ".tmp-"+snap.ID))
	final := utils.ShellQuote(path.Join(target.BackupRoot, snap.ID))
	copyScript := fmt.Sprintf(`set -e
rm -rf %s
mkdir -p %s
cp -a %s %s/data
printf '%%s' %s > %s/%s
mv %s %s`, tmp, tmp, src, tmp, utils.ShellQuote(string(meta)), tmp, snapshotMetaFile, tmp, final)

	logger.Infof("[%s] creating %s snapshot %s of %s (%d KiB)", target.Name, kind, snap.ID, sourcePath, needKB)
	if _, err := s.exec.Execute(ctx, target, copyScript, cfg.CopyTimeout); err != nil {
		cleanup := context.WithoutCancel(ctx)
		if _, cerr := s.exec.Execute(cleanup, target, "rm -rf "+tmp, cfg.CommandTimeout); cerr != nil {
			logger.Warnf("[%s] remove partial snapshot %s failed: %v", target.Name, snap.ID, cerr)
		}
		return nil, snapshotError(models.SnapshotCopyFailed, snap.ID, sourcePath, err)
	}
	return snap, nil
}

/**
 * Get one snapshot by id
 * @returns {error} *models.SnapshotError of kind NotFound (errors.Is ErrSnapshotNotFound)
 */
func (s *SnapshotStore) Get(ctx context.Context, target *models.Target, id string) (*models.Snapshot, error) {
	if !validSnapshotID(id) {
		return nil, snapshotError(models.SnapshotNotFound, id, "", fmt.Errorf("invalid snapshot id"))
	}
	metaPath := path.Join(target.BackupRoot, id, snapshotMetaFile)
	res, err := s.exec.Execute(ctx, target, "cat "+utils.ShellQuote(metaPath), s.Settings().CommandTimeout)
	if err != nil {
		if models.IsNonZeroExit(err) {
			return nil, snapshotError(models.SnapshotNotFound, id, "", nil)
		}
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metaPath, err)
	}
	snap.ID = id
	return &snap, nil
}

/**
 * Newest snapshot of the given kind
 * @param {models.SnapshotKind} kind - backup/safety, empty matches both
 * @returns {error} NotFound when the target has no such snapshot
 */
func (s *SnapshotStore) Latest(ctx context.Context, target *models.Target, kind models.SnapshotKind) (*models.Snapshot, error) {
	cur := s.List(target)
	for cur.Next(ctx) {
		snap := cur.Snapshot()
		if kind == "" || snap.Kind == kind {
			return &snap, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, snapshotError(models.SnapshotNotFound, LatestSnapshot, target.BackupRoot, nil)
}

// Resolve turns "latest" (or "") into the newest backup snapshot, anything else is looked up by id.
func (s *SnapshotStore) Resolve(ctx context.Context, target *models.Target, ref string) (*models.Snapshot, error) {
	if ref == "" || ref == LatestSnapshot {
		return s.Latest(ctx, target, models.SnapshotBackup)
	}
	return s.Get(ctx, target, ref)
}

// page fetches up to limit snapshots strictly older than after, newest first.
func (s *SnapshotStore) page(ctx context.Context, target *models.Target, after string, limit int) ([]models.Snapshot, error) {
	script := fmt.Sprintf(`cd %s 2>/dev/null || exit 0
ls -1 | grep -v '^\.' | sort -r | awk -v after=%s 'after == "" || $0 < after' | while read -r id; do
  if [ -f "$id/%s" ]; then printf '%%s\t' "$id"; cat "$id/%s"; echo; fi
done | head -n %d`, utils.ShellQuote(target.BackupRoot), utils.ShellQuote(after), snapshotMetaFile, snapshotMetaFile, limit)

	res, err := s.exec.Execute(ctx, target, script, s.Settings().CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("list snapshots of %s: %w", target.Name, err)
	}
	var out []models.Snapshot
	for _, line := range strings.Split(res.Stdout, "\n") {
		id, meta, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(meta), &snap); err != nil {
			logger.Warnf("[%s] skip snapshot %s with unreadable metadata: %v", target.Name, id, err)
			continue
		}
		snap.ID = id
		out = append(out, snap)
	}
	return out, nil
}

/**
 * SnapshotCursor enumerates snapshots newest first, one page per remote call
 * @description
 * - Position() is the id of the last snapshot returned, ListFrom(target, pos) resumes after it
 * - Snapshots created after the cursor started are not returned
 */
type SnapshotCursor struct {
	store    *SnapshotStore
	target   *models.Target
	after    string
	pageSize int
	buf      []models.Snapshot
	cur      models.Snapshot
	done     bool
	err      error
}

// List starts an enumeration from the newest snapshot.
func (s *SnapshotStore) List(target *models.Target) *SnapshotCursor {
	return s.ListFrom(target, "")
}

// ListFrom starts an enumeration with the snapshot just older than afterID.
func (s *SnapshotStore) ListFrom(target *models.Target, afterID string) *SnapshotCursor {
	return &SnapshotCursor{store: s, target: target, after: afterID, pageSize: s.Settings().PageSize}
}

func (c *SnapshotCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if len(c.buf) == 0 {
		if c.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		page, err := c.store.page(ctx, c.target, c.after, c.pageSize)
		if err != nil {
			c.err = err
			return false
		}
		if len(page) < c.pageSize {
			c.done = true
		}
		if len(page) == 0 {
			return false
		}
		c.buf = page
	}
	c.cur = c.buf[0]
	c.buf = c.buf[1:]
	c.after = c.cur.ID
	return true
}

func (c *SnapshotCursor) Snapshot() models.Snapshot {
	return c.cur
}

func (c *SnapshotCursor) Err() error {
	return c.err
}

func (c *SnapshotCursor) Position() string {
	return c.after
}

// ListAll drains a cursor; only for callers that know the history is bounded.
func (s *SnapshotStore) ListAll(ctx context.Context, target *models.Target) ([]models.Snapshot, error) {
	var out []models.Snapshot
	cur := s.List(target)
	for cur.Next(ctx) {
		out = append(out, cur.Snapshot())
	}
	return out, cur.Err()
}

func (s *SnapshotStore) Pin(target *models.Target, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[target.Name] == nil {
		s.pins[target.Name] = make(map[string]int)
	}
	s.pins[target.Name][id]++
}

func (s *SnapshotStore) Unpin(target *models.Target, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pins := s.pins[target.Name]
	if pins == nil {
		return
	}
	if pins[id] <= 1 {
		delete(pins, id)
		return
	}
	pins[id]--
}

func (s *SnapshotStore) IsPinned(target *models.Target, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[target.Name][id] > 0
}

// remove renames the snapshot to a hidden name first so it disappears from listings atomically.
func (s *SnapshotStore) remove(ctx context.Context, target *models.Target, id string) error {
	if !validSnapshotID(id) {
		return snapshotError(models.SnapshotDeleteFailed, id, "", fmt.Errorf("invalid snapshot id"))
	}
	dir := utils.ShellQuote(path.Join(target.BackupRoot, id))
	trash := utils.ShellQuote(path.Join(target.BackupRoot, ".del-"+id))
	script := fmt.Sprintf("set -e\nmv %s %s\nrm -rf %s", dir, trash, trash)
	if _, err := s.exec.Execute(ctx, target, script, s.Settings().CopyTimeout); err != nil {
		return snapshotError(models.SnapshotDeleteFailed, id, target.BackupRoot, err)
	}
	return nil
}

/**
 * Delete snapshots beyond the retention count, oldest first
 * @param {models.RetentionPolicy} policy - Keep <= 0 uses the default of 5
 * @returns {*models.PruneReport} What was kept, deleted, skipped (pinned) and failed
 * @returns {error} Only when the snapshots could not be listed
 * @description
 * - Pinned snapshots are never deleted
 * - A failed deletion is logged and recorded, pruning continues with the next snapshot
 */
func (s *SnapshotStore) Prune(ctx context.Context, target *models.Target, policy models.RetentionPolicy) (*models.PruneReport, error) {
	keep := policy.Keep
	if keep <= 0 {
		keep = models.DefaultRetention
	}
	all, err := s.ListAll(ctx, target)
	if err != nil {
		return nil, err
	}

	report := &models.PruneReport{Kept: []string{}, Deleted: []string{}, Failed: map[string]string{}}
	for i := 0; i < len(all) && i < keep; i++ {
		report.Kept = append(report.Kept, all[i].ID)
	}
	for i := len(all) - 1; i >= keep; i-- {
		id := all[i].ID
		if s.IsPinned(target, id) {
			logger.Infof("[%s] snapshot %s is pinned, not pruned", target.Name, id)
			report.Skipped = append(report.Skipped, id)
			continue
		}
		if err := s.remove(ctx, target, id); err != nil {
			logger.Warnf("[%s] prune snapshot %s failed: %v", target.Name, id, err)
			pruneFailures.Inc()
			report.Failed[id] = err.Error()
			continue
		}
		logger.Infof("[%s] pruned snapshot %s", target.Name, id)
		report.Deleted = append(report.Deleted, id)
	}
	return report, nil
}

/**
 * First half of a restore: resolve the snapshot and take the safety snapshot of dest
 * @returns {*models.Snapshot} The snapshot to restore
 * @returns {*models.Snapshot} The safety snapshot, nil when dest does not exist
 * @description
 * - The safety snapshot is mandatory, failing to take it aborts the restore
 */
func (s *SnapshotStore) PrepareRestore(ctx context.Context, target *models.Target, id, dest string) (*models.Snapshot, *models.Snapshot, error) {
	snap, err := s.Resolve(ctx, target, id)
	if err != nil {
		return nil, nil, err
	}
	safety, err := s.CreateSafety(ctx, target, dest, snap.ID)
	if err != nil {
		return nil, nil, err
	}
	return snap, safety, nil
}

// CreateSafety snapshots dest before another snapshot is restored over it; nil when dest is absent.
func (s *SnapshotStore) CreateSafety(ctx context.Context, target *models.Target, dest, restoring string) (*models.Snapshot, error) {
	safety, err := s.create(ctx, target, dest, "before restoring "+restoring, models.SnapshotSafety)
	if err != nil {
		var se *models.SnapshotError
		if errors.As(err, &se) && se.Kind == models.SnapshotSourceMissing {
			logger.Warnf("[%s] %s does not exist, nothing to protect before restore", target.Name, dest)
			return nil, nil
		}
		return nil, err
	}
	return safety, nil
}

/**
 * Second half of a restore: copy the snapshot next to dest and swap it into place
 * @description
 * - The data is copied to <dest>.restore-tmp first, dest is only replaced by renames
 * - When the final rename fails the previous dest is moved back
 */
func (s *SnapshotStore) CompleteRestore(ctx context.Context, target *models.Target, snap *models.Snapshot, dest string) error {
	data := utils.ShellQuote(path.Join(target.BackupRoot, snap.ID, "data"))
	script := fmt.Sprintf(`set -e
src=%s
dest=%s
[ -e "$src" ] || exit %d
rm -rf "$dest.restore-tmp" "$dest.restore-old"
mkdir -p "$(dirname "$dest")"
cp -a "$src" "$dest.restore-tmp"
if [ -e "$dest" ]; then mv "$dest" "$dest.restore-old"; fi
if ! mv "$dest.restore-tmp" "$dest"; then
  if [ -e "$dest.restore-old" ]; then mv "$dest.restore-old" "$dest"; fi
  exit 1
fi
rm -rf "$dest.restore-old"`, data, utils.ShellQuote(dest), sourceMissingExit)

	logger.Infof("[%s] restoring snapshot %s into %s", target.Name, snap.ID, dest)
	res, err := s.exec.Execute(ctx, target, script, s.Settings().CopyTimeout)
	if err != nil {
		if models.IsNonZeroExit(err) && res != nil && res.ExitCode == sourceMissingExit {
			return snapshotError(models.SnapshotNotFound, snap.ID, target.BackupRoot, fmt.Errorf("snapshot data missing"))
		}
		return snapshotError(models.SnapshotCopyFailed, snap.ID, dest, err)
	}
	return nil
}

/**
 * Restore a snapshot over dest
 * @param {string} id - Snapshot id or "latest"
 * @returns {*models.Snapshot} Safety snapshot of the replaced state (nil when dest did not exist)
 */
func (s *SnapshotStore) Restore(ctx context.Context, target *models.Target, id, dest string) (*models.Snapshot, error) {
	snap, safety, err := s.PrepareRestore(ctx, target, id, dest)
	if err != nil {
		return nil, err
	}
	if err := s.CompleteRestore(ctx, target, snap, dest); err != nil {
		return safety, err
	}
	return safety, nil
}
