package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// DefaultVisionFeatures — функции Vision API по умолчанию.
var DefaultVisionFeatures = []string{
	"LABEL_DETECTION",
	"TEXT_DETECTION",
	"FACE_DETECTION",
	"LANDMARK_DETECTION",
	"LOGO_DETECTION",
	"WEB_DETECTION",
}

// VisionConfig — параметры анализатора изображений.
type VisionConfig struct {
	Features   []string
	MaxResults int
}

// Vision — анализатор изображений.
type Vision struct {
	svc      *vision.Service
	features []*vision.Feature
	logger   *slog.Logger
}

// NewVision создаёт анализатор изображений.
func NewVision(ctx context.Context, cfg VisionConfig, logger *slog.Logger, opts ...option.ClientOption) (*Vision, error) {
	opts = append([]option.ClientOption{option.WithScopes(vision.CloudVisionScope)}, opts...)
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Vision API: %w", err)
	}

	names := cfg.Features
	if len(names) == 0 {
		names = DefaultVisionFeatures
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	features := make([]*vision.Feature, 0, len(names))
	for _, name := range names {
		features = append(features, &vision.Feature{Type: strings.ToUpper(name), MaxResults: int64(maxResults)})
	}

	return &Vision{
		svc:      svc,
		features: features,
		logger:   logger.With(slog.String("component", "vision")),
	}, nil
}

// Analyze возвращает теги изображения.
func (v *Vision) Analyze(ctx context.Context, localPath string) ([]model.Tag, error) {
	content, err := readContent(localPath)
	if err != nil {
		return nil, err
	}

	resp, err := v.svc.Images.Annotate(&vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: content},
			Features: v.features,
		}},
	}).Context(ctx).Do()
	observe("vision", err)
	if err != nil {
		return nil, fmt.Errorf("запрос к Vision API: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, fmt.Errorf("ошибка Vision API %d: %s", r.Error.Code, r.Error.Message)
	}

	tags := visionTags(r)
	v.logger.Debug("Изображение проанализировано", slog.Int("tags", len(tags)))
	return tags, nil
}

// visionTags преобразует ответ Vision API в теги в порядке:
// метки, текст, лица, достопримечательности, логотипы, веб-сущности.
func visionTags(r *vision.AnnotateImageResponse) []model.Tag {
	var tags []model.Tag
	add := func(kind model.TagKind, description string, confidence float64) {
		tags = append(tags, model.Tag{
			Kind:        kind,
			Description: description,
			Confidence:  confidence,
			Source:      model.SourceVision,
		})
	}

	for _, a := range r.LabelAnnotations {
		add(model.TagLabel, a.Description, a.Score)
	}
	for _, a := range r.TextAnnotations {
		conf := a.Confidence
		if conf == 0 {
			conf = 1.0
		}
		add(model.TagText, a.Description, conf)
	}
	for _, f := range r.FaceAnnotations {
		add(model.TagFace, fmt.Sprintf("Face detected (joy: %s, sorrow: %s)", f.JoyLikelihood, f.SorrowLikelihood), 1.0)
	}
	for _, a := range r.LandmarkAnnotations {
		add(model.TagLandmark, a.Description, a.Score)
	}
	for _, a := range r.LogoAnnotations {
		add(model.TagLogo, a.Description, a.Score)
	}
	if r.WebDetection != nil {
		for _, e := range r.WebDetection.WebEntities {
			if e.Description == "" {
				continue
			}
			add(model.TagWebEntity, e.Description, e.Score)
		}
	}
	return tags
}
