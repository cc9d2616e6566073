// Пакет status — конечный автомат миграции одного файла.
//
// Основной путь:
//
//	pending → downloading → analyzing → uploading → completed
//
// failed достижим из любого промежуточного состояния (downloading,
// analyzing, uploading). Единственный выход из failed — явный возврат
// в pending (повторная попытка). completed — конечное состояние.
//
// Автомат не хранит текущее состояние: строки живут в леджере, здесь
// только матрица переходов и её проверка.
package status

import "fmt"

// Status — состояние миграции файла в леджере.
type Status string

const (
	// Pending — файл зарегистрирован и ждёт обработки.
	Pending Status = "pending"
	// Downloading — файл захвачен воркером, идёт загрузка из источника.
	Downloading Status = "downloading"
	// Analyzing — байты получены, идёт анализ содержимого.
	Analyzing Status = "analyzing"
	// Uploading — идёт выгрузка в хранилище назначения.
	Uploading Status = "uploading"
	// Completed — файл перенесён, получен идентификатор назначения.
	Completed Status = "completed"
	// Failed — шаг завершился ошибкой, строка ждёт повторной попытки.
	Failed Status = "failed"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — набор допустимых целевых состояний.
var validTransitions = map[Status]map[Status]bool{
	Pending:     {Downloading: true},
	Downloading: {Analyzing: true, Failed: true},
	Analyzing:   {Uploading: true, Failed: true},
	Uploading:   {Completed: true, Failed: true},
	Completed:   {},
	Failed:      {Pending: true}, // повторная попытка
}

// All возвращает полный закрытый набор состояний в порядке жизненного цикла.
func All() []Status {
	return []Status{Pending, Downloading, Analyzing, Uploading, Completed, Failed}
}

// InFlight возвращает промежуточные состояния, в которых строкой
// владеет воркер.
func InFlight() []Status {
	return []Status{Downloading, Analyzing, Uploading}
}

// IsInFlight сообщает, находится ли строка в работе у воркера.
func (s Status) IsInFlight() bool {
	return s == Downloading || s == Analyzing || s == Uploading
}

// IsTerminal сообщает, является ли состояние конечным.
// failed конечно только до повторной попытки.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// Valid сообщает, входит ли значение в закрытый набор состояний.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Next возвращает следующее состояние основного пути.
// Для completed и failed возвращает false.
func (s Status) Next() (Status, bool) {
	switch s {
	case Pending:
		return Downloading, true
	case Downloading:
		return Analyzing, true
	case Analyzing:
		return Uploading, true
	case Uploading:
		return Completed, true
	default:
		return "", false
	}
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Validate возвращает *TransitionError, если переход from → to недопустим.
//
// Коды ошибок:
//   - INVALID_STATUS — одно из состояний вне закрытого набора
//   - INVALID_TRANSITION — переход не предусмотрен матрицей
func Validate(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return &TransitionError{
			Code:    "INVALID_STATUS",
			Message: fmt.Sprintf("недопустимое состояние: %q → %q", from, to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_STATUS, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Parse преобразует строку в Status.
// Возвращает ошибку для значений вне закрытого набора.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("недопустимое состояние: %q, допустимые: pending, downloading, analyzing, uploading, completed, failed", s)
	}
	return st, nil
}
