// Пакет policy — правила разрешения расхождений классификаторов
// и выбора итоговой метки сектора.
package policy

import (
	"fmt"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
)

// DisagreementPolicy возвращает метку, которая становится correct_label
// по умолчанию, когда метки первичного и вторичного классификаторов расходятся.
type DisagreementPolicy func(primary, secondary model.Result) string

// SecondaryWins — независимый (вторичный) классификатор считается эталоном.
func SecondaryWins(_, secondary model.Result) string {
	return secondary.Label
}

// PrimaryWins — эталоном считается первичный классификатор.
func PrimaryWins(primary, _ model.Result) string {
	return primary.Label
}

// HigherConfidence — побеждает более уверенный классификатор,
// при равенстве — вторичный.
func HigherConfidence(primary, secondary model.Result) string {
	if primary.Confidence > secondary.Confidence {
		return primary.Label
	}
	return secondary.Label
}

// ByName возвращает политику по имени из конфигурации.
func ByName(name string) (DisagreementPolicy, error) {
	switch name {
	case "", "secondary":
		return SecondaryWins, nil
	case "primary":
		return PrimaryWins, nil
	case "confidence":
		return HigherConfidence, nil
	default:
		return nil, fmt.Errorf("неизвестная политика расхождений: %q", name)
	}
}

// ResolveSector определяет сектор, в который попадает одобренная запись.
//
// Приоритет: метка-переопределение администратора, затем correct_label,
// затем метка первичного классификатора, если пользователь согласился
// с результатом (perfect/okay). Второе значение false — сектор определить
// нельзя (например, wrong без исправленной метки).
func ResolveSector(rec *model.PredictionRecord, override string) (model.Sector, bool) {
	if override != "" {
		if s, err := model.ParseSector(override); err == nil {
			return s, true
		}
		return "", false
	}
	if rec.CorrectLabel != "" {
		if s, err := model.ParseSector(rec.CorrectLabel); err == nil {
			return s, true
		}
	}
	if rec.Chosen == model.ChoicePerfect || rec.Chosen == model.ChoiceOkay {
		if s, err := model.ParseSector(rec.PrimaryResult.Label); err == nil {
			return s, true
		}
	}
	return "", false
}
