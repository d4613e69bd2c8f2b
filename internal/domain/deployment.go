package domain

import "time"

// DeploymentSpec — активная конфигурация выкатки одного сервиса.
//
// Мутируется только RolloutController; на сервис существует
// не более одной активной спецификации.
type DeploymentSpec struct {
	// Service — имя обслуживающего сервиса.
	Service string `json:"service"`

	// Replicas — желаемое число реплик.
	Replicas int `json:"replicas"`

	// MinReplicas — нижняя граница автоскейлинга.
	MinReplicas int `json:"min_replicas"`

	// MaxReplicas — верхняя граница автоскейлинга.
	MaxReplicas int `json:"max_replicas"`

	// Model — имя обслуживаемой модели.
	Model string `json:"model"`

	// ModelVersion — версия записи реестра, которую обслуживает сервис.
	ModelVersion int `json:"model_version"`

	// UpdatedAt — время последнего применения.
	UpdatedAt time.Time `json:"updated_at"`
}
