// Пакет analyzer — анализ содержимого файлов через Google Cloud Vision
// (изображения) и Video Intelligence (видео).
//
// Результат анализа — упорядоченный список тегов model.Tag. Анализ
// необязателен: ошибка анализатора не останавливает перенос файла.
package analyzer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

var requestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "archive_migrator_analysis_requests_total",
		Help: "Количество запросов к API анализа содержимого",
	},
	[]string{"api", "result"},
)

// observe учитывает результат запроса к API.
func observe(api string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	requestsTotal.WithLabelValues(api, result).Inc()
}

// Dispatcher выбирает анализатор по классу файла.
// Для классов без анализатора возвращает пустой список тегов.
type Dispatcher struct {
	image *Vision
	video *Video
}

// NewDispatcher создаёт диспетчер. Любой из анализаторов может быть nil.
func NewDispatcher(image *Vision, video *Video) *Dispatcher {
	return &Dispatcher{image: image, video: video}
}

// Analyze анализирует локальный файл.
func (d *Dispatcher) Analyze(ctx context.Context, localPath string, kind model.FileKind) ([]model.Tag, error) {
	switch {
	case kind == model.KindImage && d.image != nil:
		return d.image.Analyze(ctx, localPath)
	case kind == model.KindVideo && d.video != nil:
		return d.video.Analyze(ctx, localPath)
	default:
		return nil, nil
	}
}

// readContent читает файл и кодирует его в base64 для JSON-запроса.
func readContent(localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("чтение файла для анализа: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
