package model

import (
	"fmt"
	"strings"
)

// TagKind — вид тега. Набор закрыт.
type TagKind string

const (
	TagLabel      TagKind = "label"
	TagText       TagKind = "text"
	TagFace       TagKind = "face"
	TagLandmark   TagKind = "landmark"
	TagLogo       TagKind = "logo"
	TagWebEntity  TagKind = "web_entity"
	TagVideoLabel TagKind = "video_label"
	TagShotLabel  TagKind = "shot_label"
	TagVideoText  TagKind = "video_text"
)

// TagSource — анализатор, породивший тег.
type TagSource string

const (
	SourceVision TagSource = "vision_api"
	SourceVideo  TagSource = "video_intelligence_api"
)

// Tag — тег, полученный при анализе содержимого.
// Порядок тегов в записи совпадает с порядком выдачи анализатора.
type Tag struct {
	Kind        TagKind   `json:"kind"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	Source      TagSource `json:"source,omitempty"`
	// Segment — временной отрезок для тегов видео (video_label)
	Segment *Segment `json:"segment,omitempty"`
}

// Segment — отрезок видео в секундах.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

const (
	labelConfidenceThreshold = 0.7
	maxDescribedLabels       = 5
	maxDescribedText         = 100
)

// DescribeTags строит человекочитаемое описание файла по тегам.
//
// Части описания, через " | ":
//   - "Contains: a, b" — метки с уверенностью выше 0.7 (не больше пяти)
//   - "Text: ..." — начало первого распознанного текста
//   - "Features: face, logo" — найденные лица, достопримечательности, логотипы
//
// Без подходящих тегов возвращает "Uploaded <type> file".
func DescribeTags(tags []Tag, fileType string) string {
	fallback := fmt.Sprintf("Uploaded %s file", fileType)
	if len(tags) == 0 {
		return fallback
	}

	var (
		labels   []string
		text     string
		hasText  bool
		features = map[TagKind]bool{}
	)
	for _, tag := range tags {
		switch tag.Kind {
		case TagLabel:
			if tag.Confidence > labelConfidenceThreshold {
				labels = append(labels, tag.Description)
			}
		case TagText:
			if !hasText {
				text, hasText = tag.Description, true
			}
		case TagFace, TagLandmark, TagLogo:
			features[tag.Kind] = true
		}
	}

	var parts []string
	if len(labels) > 0 {
		if len(labels) > maxDescribedLabels {
			labels = labels[:maxDescribedLabels]
		}
		parts = append(parts, "Contains: "+strings.Join(labels, ", "))
	}
	if hasText {
		parts = append(parts, "Text: "+truncateRunes(text, maxDescribedText)+"...")
	}
	var found []string
	for _, kind := range []TagKind{TagFace, TagLandmark, TagLogo} {
		if features[kind] {
			found = append(found, string(kind))
		}
	}
	if len(found) > 0 {
		parts = append(parts, "Features: "+strings.Join(found, ", "))
	}

	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, " | ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
