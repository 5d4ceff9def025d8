// Пакет lifecycle — конечный автомат жизненного цикла записи предсказания.
//
// Цепочка состояний:
//   - recorded → user_chosen — пользователь оценил результат
//   - user_chosen → approved — администратор одобрил
//   - user_chosen → auto_approved — истёк срок ожидания решения
//   - approved / auto_approved → sectored — копия помещена в корзину сектора
//   - approved / auto_approved / sectored → user_chosen — повторная оценка
//     открывает запись заново
//
// Состояние не хранится отдельно, а выводится из полей записи.
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
)

// State — состояние записи предсказания.
type State string

const (
	// StateRecorded — классификация сохранена, оценки нет
	StateRecorded State = "recorded"
	// StateUserChosen — пользователь (или администратор) выбрал оценку
	StateUserChosen State = "user_chosen"
	// StateApproved — одобрено администратором
	StateApproved State = "approved"
	// StateAutoApproved — одобрено по истечении срока
	StateAutoApproved State = "auto_approved"
	// StateSectored — копия записи помещена в корзину сектора
	StateSectored State = "sectored"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — набор допустимых целевых состояний.
var validTransitions = map[State]map[State]bool{
	StateRecorded:     {StateUserChosen: true, StateApproved: true},
	StateUserChosen:   {StateUserChosen: true, StateApproved: true, StateAutoApproved: true},
	StateApproved:     {StateSectored: true, StateApproved: true, StateUserChosen: true},
	StateAutoApproved: {StateSectored: true, StateApproved: true, StateUserChosen: true},
	StateSectored:     {StateApproved: true, StateUserChosen: true},
}

// StateOf выводит состояние записи из её полей.
func StateOf(rec *model.PredictionRecord) State {
	switch {
	case rec.SectoredAt != nil:
		return StateSectored
	case rec.AdminApproved:
		return StateApproved
	case rec.AutoApproved:
		return StateAutoApproved
	case rec.Chosen != "":
		return StateUserChosen
	default:
		return StateRecorded
	}
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to State) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// Check проверяет допустимость перехода записи в целевое состояние.
//
// Ошибки:
//   - INVALID_STATE — неизвестное целевое состояние
//   - INVALID_TRANSITION — переход недопустим
func Check(rec *model.PredictionRecord, target State) error {
	if !isValidState(target) {
		return &TransitionError{
			Code:    "INVALID_STATE",
			Message: fmt.Sprintf("недопустимое целевое состояние: %q", target),
		}
	}

	current := StateOf(rec)
	if !CanTransition(current, target) {
		return &TransitionError{
			Code: "INVALID_TRANSITION",
			Message: fmt.Sprintf("запись %s: переход %s → %s недопустим",
				rec.ID, current, target),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_STATE, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// isValidState проверяет, является ли строка допустимым состоянием.
func isValidState(s State) bool {
	_, ok := validTransitions[s]
	return ok
}

// ParseState преобразует строку в State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !isValidState(st) {
		return "", fmt.Errorf("недопустимое состояние: %q, допустимые: recorded, user_chosen, approved, auto_approved, sectored", s)
	}
	return st, nil
}
