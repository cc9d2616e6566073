package status

import (
	"errors"
	"testing"
)

// TestParse проверяет разбор строкового состояния.
func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"pending", Pending, false},
		{"downloading", Downloading, false},
		{"analyzing", Analyzing, false},
		{"uploading", Uploading, false},
		{"completed", Completed, false},
		{"failed", Failed, false},
		{"", "", true},
		{"COMPLETED", "", true},
		{"migrated", "", true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): неожиданная ошибка: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q): хотели %q, получили %q", tt.in, tt.want, got)
		}
	}
}

// TestHappyPath проверяет, что основной путь проходит без пропусков
// и заканчивается только в completed.
func TestHappyPath(t *testing.T) {
	path := []Status{Pending}
	cur := Pending
	for {
		next, ok := cur.Next()
		if !ok {
			break
		}
		if err := Validate(cur, next); err != nil {
			t.Fatalf("%s → %s: неожиданная ошибка: %v", cur, next, err)
		}
		path = append(path, next)
		cur = next
	}

	want := []Status{Pending, Downloading, Analyzing, Uploading, Completed}
	if len(path) != len(want) {
		t.Fatalf("длина пути: хотели %d, получили %d (%v)", len(want), len(path), path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("шаг %d: хотели %s, получили %s", i, want[i], path[i])
		}
	}
}

// TestFailedReachability проверяет, что failed достижим только из
// промежуточных состояний.
func TestFailedReachability(t *testing.T) {
	for _, s := range All() {
		want := s.IsInFlight()
		if got := CanTransition(s, Failed); got != want {
			t.Errorf("%s → failed: хотели %v, получили %v", s, want, got)
		}
	}
}

// TestRetryTransition проверяет единственный выход из failed.
func TestRetryTransition(t *testing.T) {
	for _, target := range All() {
		want := target == Pending
		if got := CanTransition(Failed, target); got != want {
			t.Errorf("failed → %s: хотели %v, получили %v", target, want, got)
		}
	}
}

// TestCompletedIsFinal проверяет, что из completed переходов нет.
func TestCompletedIsFinal(t *testing.T) {
	for _, target := range All() {
		err := Validate(Completed, target)
		if err == nil {
			t.Errorf("completed → %s должен быть недопустим", target)
			continue
		}
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("ожидался *TransitionError, получен %T", err)
		}
		if te.Code != "INVALID_TRANSITION" {
			t.Errorf("ожидался код INVALID_TRANSITION, получен %q", te.Code)
		}
	}
}

// TestNoSkippedStates проверяет, что шаги основного пути нельзя пропустить.
func TestNoSkippedStates(t *testing.T) {
	skips := [][2]Status{
		{Pending, Analyzing},
		{Pending, Uploading},
		{Pending, Completed},
		{Downloading, Uploading},
		{Downloading, Completed},
		{Analyzing, Completed},
		{Pending, Failed},
	}
	for _, s := range skips {
		if CanTransition(s[0], s[1]) {
			t.Errorf("%s → %s не должен быть допустим", s[0], s[1])
		}
	}
}

// TestValidate_UnknownStatus проверяет код ошибки для значений вне набора.
func TestValidate_UnknownStatus(t *testing.T) {
	err := Validate(Status("archived"), Pending)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидался *TransitionError, получен %v", err)
	}
	if te.Code != "INVALID_STATUS" {
		t.Errorf("ожидался код INVALID_STATUS, получен %q", te.Code)
	}
}

// TestTerminalAndInFlight проверяет классификацию состояний.
func TestTerminalAndInFlight(t *testing.T) {
	for _, s := range All() {
		if s.IsTerminal() && s.IsInFlight() {
			t.Errorf("%s не может быть одновременно конечным и промежуточным", s)
		}
	}
	if len(InFlight()) != 3 {
		t.Errorf("InFlight(): хотели 3 состояния, получили %d", len(InFlight()))
	}
}
