package domain

import "time"

// ArtifactRef — ссылка на именованный артефакт, произведённый стадией.
//
// Артефакт неизменяем после создания; нижележащие стадии получают ссылку,
// а не копию. Содержимое хранится вне конвейера, локатор непрозрачен.
type ArtifactRef struct {
	// Name — логическое имя слота (например, "features", "model").
	Name string `json:"name"`

	// Location — локатор содержимого (непрозрачная строка).
	Location string `json:"location"`

	// Digest — content-addressed идентификатор вида "sha256:...".
	Digest string `json:"digest"`

	// ProducedBy — имя стадии-продюсера; "seed" для внешних артефактов.
	ProducedBy string `json:"produced_by"`

	// CreatedAt — время регистрации в ArtifactStore.
	CreatedAt time.Time `json:"created_at"`
}

// Metrics — метрики качества модели: имя → числовое значение.
// Производятся стадией обучения, потребляются gate один раз,
// после производства не мутируются.
type Metrics map[string]float64

// Clone возвращает независимую копию метрик.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
