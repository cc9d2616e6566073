// Пакет model — доменные типы мигратора: запись леджера, дескриптор
// файла источника, теги анализа, агрегаты статистики.
package model

import (
	"strings"
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/status"
)

// Origin — путь, по которому файл попал в леджер.
type Origin string

const (
	// OriginCatalog — пакетный проход по каталогу источника.
	OriginCatalog Origin = "catalog"
	// OriginRealtime — событие реального времени (webhook).
	OriginRealtime Origin = "realtime"
	// OriginManual — ручная регистрация через API.
	OriginManual Origin = "manual"
)

// FileDescriptor — описание файла, пришедшее из источника.
// Вход Reconciler.Ingest для обоих путей регистрации.
type FileDescriptor struct {
	// FileID — внешний идентификатор файла в источнике
	FileID string
	// ChannelID — канал, в котором файл опубликован (может быть пустым)
	ChannelID string
	// UserID — автор файла
	UserID string
	// Name — оригинальное имя файла
	Name string
	// FileType — тип/расширение файла в нижнем регистре (png, mp4, pdf)
	FileType string
	// Size — размер в байтах
	Size int64
	// CreatedAt — время загрузки файла в источник
	CreatedAt time.Time
	// Origin — путь регистрации
	Origin Origin
}

// FileRecord — строка леджера миграции.
// Хранится в таблице migration_files, ключ — FileID.
type FileRecord struct {
	// FileID — внешний идентификатор файла (первичный ключ, неизменяем)
	FileID string
	// Seq — порядковый номер вставки (порядок обработки)
	Seq int64
	// ChannelID — канал источника
	ChannelID string
	// UserID — автор файла
	UserID string
	// FileName — имя файла
	FileName string
	// FileType — тип файла, фиксируется при регистрации
	FileType string
	// Size — размер в байтах, фиксируется при регистрации
	Size int64
	// SourceCreatedAt — время загрузки в источник
	SourceCreatedAt time.Time
	// DestinationID — идентификатор в хранилище назначения (только для completed)
	DestinationID *string
	// FolderID — идентификатор папки назначения
	FolderID *string
	// Status — текущее состояние миграции
	Status status.Status
	// ErrorMessage — текст ошибки (только для failed)
	ErrorMessage *string
	// Tags — теги анализа содержимого (nil, пока анализ не выполнялся)
	Tags []Tag
	// AttemptCount — число захватов строки воркером
	AttemptCount int
	// Origin — путь регистрации
	Origin Origin
	// CreatedAt — время регистрации в леджере
	CreatedAt time.Time
	// UpdatedAt — время последнего перехода
	UpdatedAt time.Time
}

// NewFileRecord создаёт строку леджера в состоянии pending из дескриптора.
func NewFileRecord(d FileDescriptor, now time.Time) *FileRecord {
	origin := d.Origin
	if origin == "" {
		origin = OriginCatalog
	}
	return &FileRecord{
		FileID:          d.FileID,
		ChannelID:       d.ChannelID,
		UserID:          d.UserID,
		FileName:        d.Name,
		FileType:        NormalizeFileType(d.FileType),
		Size:            d.Size,
		SourceCreatedAt: d.CreatedAt.UTC(),
		Status:          status.Pending,
		Origin:          origin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Completion — данные фиксации успешной миграции.
// Записываются в леджер одной операцией вместе с переходом в completed.
type Completion struct {
	DestinationID string
	FolderID      string
	Tags          []Tag
}

// MetadataEnvelope — метаданные, передаваемые в хранилище вместе с байтами.
type MetadataEnvelope struct {
	// OriginalName — имя файла в источнике
	OriginalName string
	// Description — описание, сгенерированное из тегов
	Description string
	// SourceFileID — идентификатор файла в источнике
	SourceFileID string
	// ChannelID — канал источника
	ChannelID string
	// UserID — автор
	UserID string
	// UploadedAt — время загрузки в источник
	UploadedAt time.Time
}

// FileKind — класс файла для выбора анализатора.
type FileKind string

const (
	KindImage FileKind = "image"
	KindVideo FileKind = "video"
	KindOther FileKind = "other"
)

var (
	imageTypes = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}
	videoTypes = map[string]bool{"mp4": true, "mov": true, "avi": true, "webm": true}
)

// KindOf определяет класс файла по его типу.
func KindOf(fileType string) FileKind {
	ft := NormalizeFileType(fileType)
	switch {
	case imageTypes[ft]:
		return KindImage
	case videoTypes[ft]:
		return KindVideo
	default:
		return KindOther
	}
}

// NormalizeFileType приводит тип файла к нижнему регистру без точки.
func NormalizeFileType(fileType string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), ".")
}
