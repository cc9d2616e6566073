// Пакет drive — хранилище назначения на Google Drive.
//
// EnsureFolder находит папку по имени в родителе или создаёт её,
// Upload загружает файл с описанием и свойствами источника
// (slack_channel, slack_user, slack_file_id, ...).
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	// maxPropertyValue — длина значения свойства; Drive ограничивает
	// ключ и значение вместе 124 байтами.
	maxPropertyValue = 100
)

// Config — параметры хранилища.
type Config struct {
	// SharedDriveID — shared drive для поиска папок (пусто — «Мой диск»)
	SharedDriveID string
}

// ClientOptions собирает опции клиентов Google API.
// Пустой credentialsPath — Application Default Credentials.
func ClientOptions(credentialsPath, quotaProject string) []option.ClientOption {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	if quotaProject != "" {
		opts = append(opts, option.WithQuotaProject(quotaProject))
	}
	return opts
}

// Store — хранилище на Google Drive.
type Store struct {
	svc           *drive.Service
	sharedDriveID string
	logger        *slog.Logger
}

// New создаёт хранилище. opts дополняют scope drive.DriveScope.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	opts = append([]option.ClientOption{option.WithScopes(drive.DriveScope)}, opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Google Drive: %w", err)
	}
	return &Store{
		svc:           svc,
		sharedDriveID: cfg.SharedDriveID,
		logger:        logger.With(slog.String("component", "drive")),
	}, nil
}

// EnsureFolder возвращает идентификатор папки name в parentID,
// создавая её при отсутствии.
func (s *Store) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)

	call := s.svc.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
	if s.sharedDriveID != "" {
		call = call.Corpora("drive").DriveId(s.sharedDriveID)
	}
	list, err := call.Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("поиск папки %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("создание папки %q: %w", name, err)
	}

	s.logger.Info("Папка создана",
		slog.String("name", name),
		slog.String("parent_id", parentID),
		slog.String("folder_id", folder.Id),
	)
	return folder.Id, nil
}

// Upload загружает локальный файл в папку folderID и возвращает
// идентификатор созданного файла.
func (s *Store) Upload(ctx context.Context, localPath, name, folderID string, env model.MetadataEnvelope) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("открытие временного файла: %w", err)
	}
	defer f.Close()

	meta := &drive.File{
		Name:        name,
		Parents:     []string{folderID},
		Description: env.Description,
		Properties:  properties(env),
	}

	created, err := s.svc.Files.Create(meta).
		Media(f, googleapi.ContentType(contentType(name))).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("загрузка файла %q: %w", name, err)
	}
	if created.Id == "" {
		return "", fmt.Errorf("загрузка файла %q: пустой идентификатор в ответе", name)
	}

	s.logger.Debug("Файл загружен",
		slog.String("file_id", env.SourceFileID),
		slog.String("drive_id", created.Id),
		slog.String("folder_id", folderID),
	)
	return created.Id, nil
}

// properties — пользовательские свойства файла на Drive.
func properties(env model.MetadataEnvelope) map[string]string {
	props := map[string]string{
		"slack_file_id":    env.SourceFileID,
		"original_name":    truncate(env.OriginalName, maxPropertyValue),
		"upload_timestamp": env.UploadedAt.UTC().Format(time.RFC3339),
	}
	if env.ChannelID != "" {
		props["slack_channel"] = env.ChannelID
	}
	if env.UserID != "" {
		props["slack_user"] = env.UserID
	}
	return props
}

// contentType определяет MIME-тип по расширению имени.
func contentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// escapeQuery экранирует строку для языка запросов Drive.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// truncate обрезает строку до n байт, не разрывая руны.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
