// webhook.go — приём событий Slack Events API.
//
// Запрос проверяется по подписи и окну timestamp, повтор того же запроса
// (пара timestamp/подпись) отбрасывается защитой от повторов. Событие
// file_shared превращается в дескриптор и регистрируется через Ingest —
// ту же точку, что и у каталожного прохода.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/archive-migrator/internal/api/errors"
	"github.com/bigkaa/archive-migrator/internal/domain/model"
	"github.com/bigkaa/archive-migrator/internal/replay"
	"github.com/bigkaa/archive-migrator/internal/service"
	"github.com/bigkaa/archive-migrator/internal/slackapi"
)

// maxWebhookBody — предел размера тела события.
const maxWebhookBody = 1 << 20

// FileDescriber получает полное описание файла по идентификатору.
type FileDescriber interface {
	Describe(ctx context.Context, fileID string, origin model.Origin) (model.FileDescriptor, error)
}

// Ingester регистрирует файл в леджере.
type Ingester interface {
	Ingest(ctx context.Context, d model.FileDescriptor) (service.IngestResult, error)
}

// BatchTrigger запускает внеочередной прогон.
type BatchTrigger interface {
	Trigger()
}

// WebhookConfig — параметры webhook.
type WebhookConfig struct {
	Secret             string
	MaxSkew            time.Duration
	ProcessImmediately bool
}

// WebhookHandler — обработчик Slack Events API.
type WebhookHandler struct {
	cfg      WebhookConfig
	guard    replay.Guard
	files    FileDescriber
	ingester Ingester
	trigger  BatchTrigger
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookHandler создаёт обработчик. trigger может быть nil.
func NewWebhookHandler(
	cfg WebhookConfig,
	guard replay.Guard,
	files FileDescriber,
	ingester Ingester,
	trigger BatchTrigger,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		cfg:      cfg,
		guard:    guard,
		files:    files,
		ingester: ingester,
		trigger:  trigger,
		logger:   logger.With(slog.String("component", "webhook")),
		now:      time.Now,
	}
}

// webhookPayload — внешний конверт Events API.
type webhookPayload struct {
	Type      string        `json:"type"`
	Challenge string        `json:"challenge"`
	EventID   string        `json:"event_id"`
	Event     *webhookEvent `json:"event"`
}

type webhookEvent struct {
	Type      string         `json:"type"`
	FileID    string         `json:"file_id"`
	UserID    string         `json:"user_id"`
	ChannelID string         `json:"channel_id"`
	File      *slackapi.File `json:"file"`
}

// ServeHTTP обрабатывает POST на endpoint webhook.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.badRequest(w, "Не удалось прочитать тело запроса")
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	switch err := verifySignature(h.cfg.Secret, timestamp, signature, body, h.now(), h.cfg.MaxSkew); {
	case errors.Is(err, errMissingSignature):
		h.logger.Warn("Запрос без подписи", slog.String("remote_addr", r.RemoteAddr))
		webhookRequestsTotal.WithLabelValues("unauthorized").Inc()
		apierrors.Unauthorized(w, err.Error())
		return
	case err != nil:
		h.logger.Warn("Подпись запроса не прошла проверку",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		webhookRequestsTotal.WithLabelValues("forbidden").Inc()
		apierrors.Forbidden(w, err.Error())
		return
	}

	key := timestamp + ":" + signature
	first, err := h.guard.First(r.Context(), key)
	if err != nil {
		// При недоступном Redis запрос обрабатывается без защиты.
		h.logger.Warn("Защита от повторов недоступна", slog.String("error", err.Error()))
	} else if !first {
		webhookRequestsTotal.WithLabelValues("replay").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.badRequest(w, "Некорректный JSON")
		return
	}

	switch payload.Type {
	case "url_verification":
		if payload.Challenge == "" {
			h.badRequest(w, "Отсутствует challenge")
			return
		}
		webhookRequestsTotal.WithLabelValues("challenge").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"challenge": payload.Challenge})
	case "event_callback":
		h.handleEvent(w, r, payload, key)
	default:
		h.badRequest(w, "Неизвестный тип события: "+payload.Type)
	}
}

// handleEvent обрабатывает event_callback. При ответе 5xx ключ запроса
// снимается с защиты от повторов: Slack доставит событие повторно.
func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request, payload webhookPayload, key string) {
	ev := payload.Event
	if ev == nil || ev.Type != "file_shared" {
		webhookRequestsTotal.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	d, err := h.describe(r.Context(), ev)
	if err != nil {
		h.logger.Error("Ошибка получения описания файла",
			slog.String("event_id", payload.EventID),
			slog.String("file_id", ev.FileID),
			slog.String("error", err.Error()),
		)
		h.forget(r.Context(), key)
		webhookRequestsTotal.WithLabelValues("source_error").Inc()
		apierrors.SourceUnavailable(w, "Не удалось получить описание файла")
		return
	}

	res, err := h.ingester.Ingest(r.Context(), d)
	if err != nil {
		h.logger.Error("Ошибка регистрации файла",
			slog.String("file_id", d.FileID),
			slog.String("error", err.Error()),
		)
		h.forget(r.Context(), key)
		webhookRequestsTotal.WithLabelValues("error").Inc()
		apierrors.InternalError(w, "Ошибка регистрации файла")
		return
	}

	webhookRequestsTotal.WithLabelValues(string(res.Outcome)).Inc()
	h.logger.Info("Событие file_shared обработано",
		slog.String("event_id", payload.EventID),
		slog.String("file_id", d.FileID),
		slog.String("outcome", string(res.Outcome)),
	)

	if res.Outcome == service.IngestAccepted && h.cfg.ProcessImmediately && h.trigger != nil {
		h.trigger.Trigger()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)})
}

// describe строит дескриптор из события. Если событие не содержит
// имени и типа файла, описание запрашивается через files.info.
func (h *WebhookHandler) describe(ctx context.Context, ev *webhookEvent) (model.FileDescriptor, error) {
	fileID := ev.FileID
	if fileID == "" && ev.File != nil {
		fileID = ev.File.ID
	}
	if fileID == "" {
		return model.FileDescriptor{}, errors.New("событие без идентификатора файла")
	}

	var d model.FileDescriptor
	if f := ev.File; f != nil && f.Name != "" && f.FileType != "" {
		d = f.Descriptor(model.OriginRealtime)
	} else {
		var err error
		if d, err = h.files.Describe(ctx, fileID, model.OriginRealtime); err != nil {
			return model.FileDescriptor{}, err
		}
	}
	if d.ChannelID == "" {
		d.ChannelID = ev.ChannelID
	}
	if d.UserID == "" {
		d.UserID = ev.UserID
	}
	return d, nil
}

// forget снимает отметку запроса, обработка которого не удалась.
func (h *WebhookHandler) forget(ctx context.Context, key string) {
	if err := h.guard.Forget(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Warn("Не удалось снять отметку запроса", slog.String("error", err.Error()))
	}
}

func (h *WebhookHandler) badRequest(w http.ResponseWriter, message string) {
	webhookRequestsTotal.WithLabelValues("bad_request").Inc()
	apierrors.ValidationError(w, message)
}
