package model

import (
	"time"

	"github.com/bigkaa/archive-migrator/internal/domain/status"
)

// MigrationStats — агрегат по леджеру, считается на каждый запрос.
type MigrationStats struct {
	// Total — всего строк в леджере
	Total int64 `json:"total"`
	// Completed — перенесено успешно
	Completed int64 `json:"completed"`
	// Failed — завершилось ошибкой
	Failed int64 `json:"failed"`
	// ByStatus — разбивка по всем состояниям
	ByStatus map[status.Status]int64 `json:"by_status"`
}

// BatchResult — итог одного прогона RunBatch.
type BatchResult struct {
	// Claimed — строк захвачено воркерами
	Claimed int `json:"claimed"`
	// Successful — дошли до completed
	Successful int `json:"successful"`
	// Failed — ушли в failed
	Failed int `json:"failed"`
	// Skipped — строки, захват которых не удался (заняты другим воркером)
	Skipped int `json:"skipped"`
	// Errors — сообщения об ошибках по файлам ("<file_id>: <message>")
	Errors []string `json:"errors"`
}

// FileOutcome — итог обработки одной строки воркером.
type FileOutcome int

const (
	OutcomeCompleted FileOutcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// Add учитывает итог одной строки.
func (r *BatchResult) Add(outcome FileOutcome, fileID, message string) {
	switch outcome {
	case OutcomeCompleted:
		r.Claimed++
		r.Successful++
	case OutcomeFailed:
		r.Claimed++
		r.Failed++
		r.Errors = append(r.Errors, fileID+": "+message)
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Merge добавляет итог другой пачки.
func (r *BatchResult) Merge(other BatchResult) {
	r.Claimed += other.Claimed
	r.Successful += other.Successful
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// RunTrigger — инициатор прогона.
type RunTrigger string

const (
	TriggerCLI      RunTrigger = "cli"
	TriggerSchedule RunTrigger = "schedule"
	TriggerAPI      RunTrigger = "api"
	TriggerRealtime RunTrigger = "realtime"
)

// MigrationRun — запись истории прогонов.
// Хранится в таблице migration_runs.
type MigrationRun struct {
	ID         string
	Trigger    RunTrigger
	StartedAt  time.Time
	FinishedAt *time.Time
	Result     BatchResult
}

// MigrationEvent — событие о конечном переходе файла.
type MigrationEvent struct {
	ID            string        `json:"id"`
	FileID        string        `json:"file_id"`
	Status        status.Status `json:"status"`
	DestinationID string        `json:"destination_id,omitempty"`
	FolderID      string        `json:"folder_id,omitempty"`
	Error         string        `json:"error,omitempty"`
	TagsCount     int           `json:"tags_count"`
	Attempt       int           `json:"attempt"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// Channel — канал источника (кэш справочника).
type Channel struct {
	ID        string
	Name      string
	UpdatedAt time.Time
}

// User — пользователь источника (кэш справочника).
type User struct {
	ID        string
	Name      string
	RealName  string
	UpdatedAt time.Time
}
