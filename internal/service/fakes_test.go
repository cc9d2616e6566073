package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/repository"
)

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeDownloader пишет содержимое файла или вызывает fn.
type fakeDownloader struct {
	mu    sync.Mutex
	calls map[string]int
	paths []string
	fn    func(ctx context.Context, fileID string) error
}

func (d *fakeDownloader) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[fileID]++
	if f, ok := w.(*os.File); ok {
		d.paths = append(d.paths, f.Name())
	}
	fn := d.fn
	d.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, fileID); err != nil {
			return 0, err
		}
	}
	n, err := io.WriteString(w, "bytes of "+fileID)
	return int64(n), err
}

func (d *fakeDownloader) callsFor(fileID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[fileID]
}

func (d *fakeDownloader) tempPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

// fakeAnalyzer возвращает заданные теги или ошибку.
type fakeAnalyzer struct {
	mu    sync.Mutex
	tags  []model.Tag
	err   error
	calls int
	kinds []model.FileKind
}

func (a *fakeAnalyzer) Analyze(_ context.Context, localPath string, kind model.FileKind) ([]model.Tag, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.kinds = append(a.kinds, kind)
	if _, err := os.Stat(localPath); err != nil {
		return nil, fmt.Errorf("локальный файл недоступен: %w", err)
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.tags, nil
}

// uploadCall — параметры вызова Upload.
type uploadCall struct {
	name     string
	folderID string
	env      model.MetadataEnvelope
	content  string
}

// fakeDestination — хранилище назначения в памяти.
type fakeDestination struct {
	mu      sync.Mutex
	folders map[string]string // parentID/name → id
	uploads []uploadCall
	ensure  map[string]int // name → число вызовов EnsureFolder
	destID  func(fileID string) string
	err     error
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		folders: make(map[string]string),
		ensure:  make(map[string]int),
		destID:  func(fileID string) string { return "D-" + fileID },
	}
}

func (d *fakeDestination) EnsureFolder(_ context.Context, name, parentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure[name]++
	key := parentID + "/" + name
	if id, ok := d.folders[key]; ok {
		return id, nil
	}
	id := fmt.Sprintf("folder-%d", len(d.folders)+1)
	d.folders[key] = id
	return id, nil
}

func (d *fakeDestination) Upload(_ context.Context, localPath, name, folderID string, env model.MetadataEnvelope) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.uploads = append(d.uploads, uploadCall{name: name, folderID: folderID, env: env, content: string(content)})
	return d.destID(env.SourceFileID), nil
}

func (d *fakeDestination) ensureCalls(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensure[name]
}

// staticFolders всегда возвращает одну папку.
type staticFolders struct {
	id  string
	err error
}

func (f staticFolders) Resolve(context.Context, string, string) (string, error) {
	return f.id, f.err
}

// recordingPublisher запоминает события.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.MigrationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e model.MigrationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) snapshot() []model.MigrationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.MigrationEvent(nil), p.events...)
}

// brokenLedger возвращает ошибку из Claim.
type brokenLedger struct {
	repository.LedgerRepository
}

var errLedgerDown = errors.New("соединение с леджером потеряно")

func (brokenLedger) Claim(context.Context, string) (bool, error) {
	return false, errLedgerDown
}

// fakeNames — NameLookup в памяти.
type fakeNames struct {
	mu       sync.Mutex
	channels map[string]string
	users    map[string]string
	calls    int
}

func (n *fakeNames) ChannelInfo(_ context.Context, id string) (*model.Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	name, ok := n.channels[id]
	if !ok {
		return nil, errors.New("channel_not_found")
	}
	return &model.Channel{ID: id, Name: name, UpdatedAt: time.Now().UTC()}, nil
}

func (n *fakeNames) UserInfo(_ context.Context, id string) (*model.User, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	name, ok := n.users[id]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return &model.User{ID: id, Name: strings.ToLower(name), RealName: name, UpdatedAt: time.Now().UTC()}, nil
}

// descriptor строит дескриптор для тестов.
func descriptor(id, fileType string, size int64) model.FileDescriptor {
	return model.FileDescriptor{
		FileID:    id,
		ChannelID: "C1",
		UserID:    "U1",
		Name:      id + "." + fileType,
		FileType:  fileType,
		Size:      size,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Origin:    model.OriginCatalog,
	}
}
