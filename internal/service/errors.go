// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — файл или прогон не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidTransition — операция недопустима в текущем состоянии файла.
	ErrInvalidTransition = errors.New("недопустимый переход состояния")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrSourceUnavailable — источник (Slack API) недоступен или вернул ошибку.
	ErrSourceUnavailable = errors.New("источник недоступен")
)
