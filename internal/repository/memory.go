package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/domain/status"
)

// memoryLedger — LedgerRepository в памяти процесса.
// Каждая операция выполняется под одним мьютексом, что даёт ту же
// атомарность условных переходов, что и UPDATE ... WHERE status = ...
type memoryLedger struct {
	mu      sync.Mutex
	seq     int64
	records map[string]*model.FileRecord
	now     func() time.Time
}

// NewMemoryLedger создаёт пустой леджер в памяти.
func NewMemoryLedger() LedgerRepository {
	return &memoryLedger{
		records: make(map[string]*model.FileRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *memoryLedger) InsertIfAbsent(_ context.Context, rec *model.FileRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.FileID]; ok {
		return false, nil
	}
	m.seq++
	now := m.now()
	stored := cloneRecord(rec)
	stored.Seq = m.seq
	stored.Status = status.Pending
	stored.DestinationID = nil
	stored.ErrorMessage = nil
	stored.Tags = nil
	stored.AttemptCount = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.records[rec.FileID] = stored

	rec.Seq, rec.Status, rec.CreatedAt, rec.UpdatedAt = stored.Seq, stored.Status, now, now
	return true, nil
}

func (m *memoryLedger) Get(_ context.Context, fileID string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *memoryLedger) List(_ context.Context, filter LedgerFilter) ([]*model.FileRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := m.sortedLocked(func(r *model.FileRecord) bool {
		return filter.Status == nil || r.Status == *filter.Status
	})
	total := len(matched)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := min(filter.Offset+limit, total)
	return matched[filter.Offset:end], total, nil
}

func (m *memoryLedger) ListPending(_ context.Context, limit int) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.sortedLocked(func(r *model.FileRecord) bool { return r.Status == status.Pending })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *memoryLedger) Claim(_ context.Context, fileID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok || rec.Status != status.Pending {
		return false, nil
	}
	rec.Status = status.Downloading
	rec.ErrorMessage = nil
	rec.AttemptCount++
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryLedger) Transition(_ context.Context, fileID string, from, to status.Status) (bool, error) {
	if err := validateIntermediate(from, to); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = to
	rec.ErrorMessage = nil
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryLedger) Complete(_ context.Context, fileID string, c model.Completion) (bool, error) {
	if c.DestinationID == "" {
		return false, fmt.Errorf("фиксация файла %s: пустой идентификатор назначения", fileID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok || rec.Status != status.Uploading {
		return false, nil
	}
	dest := c.DestinationID
	rec.DestinationID = &dest
	rec.FolderID = nil
	if c.FolderID != "" {
		folder := c.FolderID
		rec.FolderID = &folder
	}
	rec.Tags = slices.Clone(c.Tags)
	if rec.Tags == nil {
		rec.Tags = []model.Tag{}
	}
	rec.Status = status.Completed
	rec.ErrorMessage = nil
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryLedger) Fail(_ context.Context, fileID string, from status.Status, message string) (bool, error) {
	if err := status.Validate(from, status.Failed); err != nil {
		return false, err
	}
	if message == "" {
		message = "неизвестная ошибка"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok || rec.Status != from {
		return false, nil
	}
	rec.Status = status.Failed
	rec.ErrorMessage = &message
	rec.UpdatedAt = m.now()
	return true, nil
}

func (m *memoryLedger) Requeue(ctx context.Context, fileID string) (bool, error) {
	return m.Transition(ctx, fileID, status.Failed, status.Pending)
}

func (m *memoryLedger) RequeueFailed(_ context.Context, maxAttempts int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if rec.Status != status.Failed {
			continue
		}
		if maxAttempts > 0 && rec.AttemptCount >= maxAttempts {
			continue
		}
		rec.Status = status.Pending
		rec.ErrorMessage = nil
		rec.UpdatedAt = m.now()
		n++
	}
	return n, nil
}

func (m *memoryLedger) RecoverStalled(_ context.Context, before time.Time, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if !rec.Status.IsInFlight() || !rec.UpdatedAt.Before(before) {
			continue
		}
		msg := message
		rec.Status = status.Failed
		rec.ErrorMessage = &msg
		rec.UpdatedAt = m.now()
		n++
	}
	return n, nil
}

func (m *memoryLedger) Stats(_ context.Context) (model.MigrationStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := newStats()
	for _, rec := range m.records {
		stats.ByStatus[rec.Status]++
	}
	return finishStats(stats), nil
}

// sortedLocked возвращает копии подходящих строк в порядке регистрации.
// Вызывается под m.mu.
func (m *memoryLedger) sortedLocked(match func(*model.FileRecord) bool) []*model.FileRecord {
	var out []*model.FileRecord
	for _, rec := range m.records {
		if match(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *model.FileRecord) int {
		return int(a.Seq - b.Seq)
	})
	return out
}

// cloneRecord возвращает глубокую копию строки.
func cloneRecord(rec *model.FileRecord) *model.FileRecord {
	c := *rec
	if rec.DestinationID != nil {
		v := *rec.DestinationID
		c.DestinationID = &v
	}
	if rec.FolderID != nil {
		v := *rec.FolderID
		c.FolderID = &v
	}
	if rec.ErrorMessage != nil {
		v := *rec.ErrorMessage
		c.ErrorMessage = &v
	}
	if rec.Tags != nil {
		c.Tags = slices.Clone(rec.Tags)
	}
	return &c
}

// memoryDirectory — DirectoryRepository в памяти.
type memoryDirectory struct {
	mu       sync.RWMutex
	channels map[string]model.Channel
	users    map[string]model.User
}

// NewMemoryDirectory создаёт пустой справочник в памяти.
func NewMemoryDirectory() DirectoryRepository {
	return &memoryDirectory{
		channels: make(map[string]model.Channel),
		users:    make(map[string]model.User),
	}
}

func (d *memoryDirectory) UpsertChannels(_ context.Context, channels []model.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	for _, ch := range channels {
		ch.UpdatedAt = now
		d.channels[ch.ID] = ch
	}
	return nil
}

func (d *memoryDirectory) UpsertUsers(_ context.Context, users []model.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range users {
		u.UpdatedAt = now
		d.users[u.ID] = u
	}
	return nil
}

func (d *memoryDirectory) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func (d *memoryDirectory) GetUser(_ context.Context, id string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// memoryFolderMappings — FolderMappingRepository в памяти.
type memoryFolderMappings struct {
	mu      sync.Mutex
	folders map[[2]string]string
}

// NewMemoryFolderMappings создаёт пустое хранилище папок в памяти.
func NewMemoryFolderMappings() FolderMappingRepository {
	return &memoryFolderMappings{folders: make(map[[2]string]string)}
}

func (f *memoryFolderMappings) Get(_ context.Context, channelID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.folders[[2]string{channelID, userID}]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (f *memoryFolderMappings) PutIfAbsent(_ context.Context, channelID, userID, folderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]string{channelID, userID}
	if existing, ok := f.folders[key]; ok {
		return existing, nil
	}
	f.folders[key] = folderID
	return folderID, nil
}

// memoryRuns — MigrationRunRepository в памяти.
type memoryRuns struct {
	mu   sync.Mutex
	runs []*model.MigrationRun
}

// NewMemoryRuns создаёт пустую историю прогонов в памяти.
func NewMemoryRuns() MigrationRunRepository {
	return &memoryRuns{}
}

func (r *memoryRuns) Start(_ context.Context, run *model.MigrationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.runs {
		if existing.ID == run.ID {
			return fmt.Errorf("%w: прогон %s уже записан", ErrConflict, run.ID)
		}
	}
	c := *run
	r.runs = append(r.runs, &c)
	return nil
}

func (r *memoryRuns) Finish(_ context.Context, id string, finishedAt time.Time, res model.BatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.ID == id {
			t := finishedAt
			run.FinishedAt = &t
			run.Result = res
			run.Result.Errors = slices.Clone(res.Errors)
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRuns) ListRecent(_ context.Context, limit int) ([]*model.MigrationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]*model.MigrationRun, 0, min(limit, len(r.runs)))
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		c := *r.runs[i]
		out = append(out, &c)
	}
	return out, nil
}
