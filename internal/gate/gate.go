// Package gate содержит quality gate — проверку метрик кандидата
// по порогам качества.
//
// Evaluate — чистая функция: одни и те же метрики и пороги всегда
// дают одно и то же решение. Никаких часов, сети и случайности.
package gate

import (
	"fmt"
	"strings"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Evaluate сверяет метрики кандидата с порогами качества.
//
// Возвращает Decision:
//   - Promote = true, только если ВСЕ пороги пройдены
//   - Reasons содержит по одной причине на каждый нарушенный порог,
//     в порядке объявления порогов
//
// Отсутствующая метрика считается нарушением (fail closed):
// недостаток данных никогда не продвигает кандидата.
func Evaluate(metrics domain.Metrics, thresholds []domain.Threshold) domain.Decision {
	decision := domain.Decision{Promote: true}

	for _, t := range thresholds {
		value, present := metrics[t.Metric]
		if !present {
			decision.Promote = false
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("metric %s is missing", t.Metric))
			continue
		}

		if !satisfies(value, t.Op, t.Bound) {
			decision.Promote = false
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("metric %s = %g violates %s %g", t.Metric, value, t.Op, t.Bound))
		}
	}

	return decision
}

// satisfies проверяет value Op bound.
// Неизвестный компаратор — нарушение (fail closed); парсер не должен
// такое пропустить.
func satisfies(value float64, op string, bound float64) bool {
	switch op {
	case "<":
		return value < bound
	case ">":
		return value > bound
	case "<=":
		return value <= bound
	case ">=":
		return value >= bound
	default:
		return false
	}
}

// Summary возвращает человекочитаемую сводку решения для логов.
func Summary(d domain.Decision) string {
	if d.Promote {
		return "promote"
	}
	return fmt.Sprintf("reject: %s", strings.Join(d.Reasons, "; "))
}
