package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/videointelligence/v1"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// DefaultVideoFeatures — функции Video Intelligence API по умолчанию.
var DefaultVideoFeatures = []string{
	"LABEL_DETECTION",
	"SHOT_CHANGE_DETECTION",
	"TEXT_DETECTION",
}

// VideoConfig — параметры анализатора видео.
type VideoConfig struct {
	Features []string
	// PollInterval — интервал опроса длительной операции
	PollInterval time.Duration
}

// Video — анализатор видео.
type Video struct {
	svc          *videointelligence.Service
	features     []string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewVideo создаёт анализатор видео.
func NewVideo(ctx context.Context, cfg VideoConfig, logger *slog.Logger, opts ...option.ClientOption) (*Video, error) {
	opts = append([]option.ClientOption{option.WithScopes(videointelligence.CloudPlatformScope)}, opts...)
	svc, err := videointelligence.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Video Intelligence API: %w", err)
	}

	features := cfg.Features
	if len(features) == 0 {
		features = DefaultVideoFeatures
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}

	return &Video{
		svc:          svc,
		features:     features,
		pollInterval: poll,
		logger:       logger.With(slog.String("component", "video_intelligence")),
	}, nil
}

// Analyze запускает аннотирование видео и ждёт завершения операции.
// Время ожидания ограничивает ctx.
func (v *Video) Analyze(ctx context.Context, localPath string) ([]model.Tag, error) {
	content, err := readContent(localPath)
	if err != nil {
		return nil, err
	}

	op, err := v.svc.Videos.Annotate(&videointelligence.GoogleCloudVideointelligenceV1AnnotateVideoRequest{
		InputContent: content,
		Features:     v.features,
	}).Context(ctx).Do()
	observe("video_intelligence", err)
	if err != nil {
		return nil, fmt.Errorf("запуск аннотирования видео: %w", err)
	}

	op, err = v.wait(ctx, op)
	if err != nil {
		return nil, err
	}

	var resp videointelligence.GoogleCloudVideointelligenceV1AnnotateVideoResponse
	if err := json.Unmarshal(op.Response, &resp); err != nil {
		return nil, fmt.Errorf("декодирование результата аннотирования: %w", err)
	}
	if len(resp.AnnotationResults) == 0 {
		return nil, nil
	}

	res := resp.AnnotationResults[0]
	if res.Error != nil && res.Error.Code != 0 {
		return nil, fmt.Errorf("ошибка Video Intelligence API %d: %s", res.Error.Code, res.Error.Message)
	}

	tags := videoTags(res)
	v.logger.Debug("Видео проанализировано", slog.Int("tags", len(tags)))
	return tags, nil
}

// wait опрашивает операцию до завершения.
func (v *Video) wait(ctx context.Context, op *videointelligence.GoogleLongrunningOperation) (*videointelligence.GoogleLongrunningOperation, error) {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ожидание операции %s: %w", op.Name, ctx.Err())
		case <-ticker.C:
		}
		next, err := v.svc.Projects.Locations.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("опрос операции %s: %w", op.Name, err)
		}
		op = next
	}

	if op.Error != nil && op.Error.Code != 0 {
		return nil, fmt.Errorf("операция %s завершилась ошибкой %d: %s", op.Name, op.Error.Code, op.Error.Message)
	}
	return op, nil
}

// videoTags преобразует результат аннотирования в теги.
// video_label — по тегу на каждый сегмент метки, shot_label — с максимальной
// уверенностью по сегментам, video_text — распознанный текст.
func videoTags(res *videointelligence.GoogleCloudVideointelligenceV1VideoAnnotationResults) []model.Tag {
	var tags []model.Tag

	for _, a := range res.SegmentLabelAnnotations {
		name := entityName(a.Entity)
		for _, s := range a.Segments {
			tag := model.Tag{
				Kind:        model.TagVideoLabel,
				Description: name,
				Confidence:  s.Confidence,
				Source:      model.SourceVideo,
			}
			if s.Segment != nil {
				tag.Segment = &model.Segment{
					Start: parseOffset(s.Segment.StartTimeOffset),
					End:   parseOffset(s.Segment.EndTimeOffset),
				}
			}
			tags = append(tags, tag)
		}
	}

	for _, a := range res.ShotLabelAnnotations {
		var best float64
		for _, s := range a.Segments {
			best = max(best, s.Confidence)
		}
		tags = append(tags, model.Tag{
			Kind:        model.TagShotLabel,
			Description: entityName(a.Entity),
			Confidence:  best,
			Source:      model.SourceVideo,
		})
	}

	for _, a := range res.TextAnnotations {
		if a.Text == "" {
			continue
		}
		tags = append(tags, model.Tag{
			Kind:        model.TagVideoText,
			Description: a.Text,
			Confidence:  1.0,
			Source:      model.SourceVideo,
		})
	}
	return tags
}

func entityName(e *videointelligence.GoogleCloudVideointelligenceV1Entity) string {
	if e == nil {
		return ""
	}
	return e.Description
}

// parseOffset разбирает смещение вида "12.5s" в секунды.
func parseOffset(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil {
		return 0
	}
	return f
}
