// Package rollout содержит контроллер выкаток обслуживающих сервисов.
//
// Контроллер хранит по одной активной DeploymentSpec на сервис,
// применяет новые спецификации и наблюдает здоровье реплик через
// Prober. Сам контроллер репликами не управляет — это граница
// с инфраструктурой развёртывания.
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
)

// Prober сообщает наблюдаемое состояние реплик сервиса.
type Prober interface {
	// ReadyReplicas возвращает число готовых и общее число реплик.
	ReadyReplicas(ctx context.Context, service string) (ready, total int, err error)
}

// Controller — контроллер выкаток.
type Controller struct {
	mu    sync.RWMutex
	specs map[string]*domain.DeploymentSpec

	prober       Prober
	pollInterval time.Duration
	logger       *slog.Logger
}

// Config — параметры создания Controller.
type Config struct {
	// Prober — источник данных о здоровье реплик.
	Prober Prober

	// PollInterval — период опроса в WaitHealthy. По умолчанию 500ms.
	PollInterval time.Duration

	// Logger — логгер (опционально).
	Logger *slog.Logger
}

// New создаёт контроллер.
func New(cfg Config) *Controller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		specs:        make(map[string]*domain.DeploymentSpec),
		prober:       cfg.Prober,
		pollInterval: interval,
		logger:       logger,
	}
}

// Apply применяет спецификацию выкатки, замещая предыдущую для того же
// сервиса. Replicas зажимается в [MinReplicas, MaxReplicas].
func (c *Controller) Apply(ctx context.Context, spec domain.DeploymentSpec) (*domain.DeploymentSpec, error) {
	if spec.Service == "" {
		return nil, fmt.Errorf("%w: empty service", ErrInvalidSpec)
	}
	if spec.Replicas <= 0 {
		return nil, fmt.Errorf("%w: replicas must be positive", ErrInvalidSpec)
	}
	if spec.MinReplicas < 0 || (spec.MaxReplicas > 0 && spec.MinReplicas > spec.MaxReplicas) {
		return nil, fmt.Errorf("%w: min_replicas %d > max_replicas %d",
			ErrInvalidSpec, spec.MinReplicas, spec.MaxReplicas)
	}

	if spec.Replicas < spec.MinReplicas {
		spec.Replicas = spec.MinReplicas
	}
	if spec.MaxReplicas > 0 && spec.Replicas > spec.MaxReplicas {
		spec.Replicas = spec.MaxReplicas
	}
	spec.UpdatedAt = time.Now()

	c.mu.Lock()
	c.specs[spec.Service] = &spec
	c.mu.Unlock()

	c.logger.Info("deployment applied",
		"service", spec.Service,
		"model", spec.Model,
		"model_version", spec.ModelVersion,
		"replicas", spec.Replicas,
	)

	return &spec, nil
}

// Current возвращает активную спецификацию сервиса.
func (c *Controller) Current(service string) (*domain.DeploymentSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, exists := c.specs[service]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	out := *spec
	return &out, nil
}

// ObserveHealth возвращает агрегированное состояние здоровья сервиса.
func (c *Controller) ObserveHealth(ctx context.Context, service string) (domain.HealthStatus, error) {
	if _, err := c.Current(service); err != nil {
		return "", err
	}

	ready, total, err := c.prober.ReadyReplicas(ctx, service)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", service, err)
	}

	switch {
	case ready <= 0:
		return domain.HealthUnavailable, nil
	case ready < total:
		return domain.HealthDegraded, nil
	default:
		return domain.HealthHealthy, nil
	}
}

// WaitHealthy блокируется, пока доля готовых реплик сервиса не достигнет
// minFraction от желаемого числа, либо до истечения timeout
// (ErrRolloutTimeout) или отмены контекста.
func (c *Controller) WaitHealthy(ctx context.Context, service string, minFraction float64, timeout time.Duration) error {
	spec, err := c.Current(service)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		ready, _, err := c.prober.ReadyReplicas(ctx, service)
		if err == nil {
			fraction := float64(ready) / float64(spec.Replicas)
			if fraction >= minFraction {
				c.logger.Info("service healthy",
					"service", service,
					"ready", ready,
					"desired", spec.Replicas,
				)
				return nil
			}
		} else {
			c.logger.Warn("health probe failed", "service", service, "error", err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s did not reach %.0f%% healthy in %s",
				ErrRolloutTimeout, service, minFraction*100, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StaticProber — Prober с фиксированными значениями. Для тестов
// и локального режима без инфраструктуры развёртывания.
type StaticProber struct {
	mu    sync.Mutex
	state map[string][2]int // сервис → {ready, total}
}

// NewStaticProber создаёт пустой StaticProber.
func NewStaticProber() *StaticProber {
	return &StaticProber{state: make(map[string][2]int)}
}

// Set задаёт наблюдаемое состояние сервиса.
func (p *StaticProber) Set(service string, ready, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state[service] = [2]int{ready, total}
}

// ReadyReplicas реализует Prober.
func (p *StaticProber) ReadyReplicas(_ context.Context, service string) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state[service]
	return s[0], s[1], nil
}

// LocalProber считает каждую применённую выкатку немедленно сошедшейся:
// готово ровно столько реплик, сколько запрошено в активной спецификации.
// Для локального режима, где контроллер не подключён к реальной
// инфраструктуре развёртывания.
type LocalProber struct {
	mu   sync.Mutex
	ctrl *Controller
}

// NewLocalProber создаёт LocalProber. Контроллер привязывается позже
// через Bind: контроллеру нужен prober при создании.
func NewLocalProber() *LocalProber {
	return &LocalProber{}
}

// Bind привязывает контроллер, состояние которого наблюдает prober.
func (p *LocalProber) Bind(ctrl *Controller) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ctrl = ctrl
}

// ReadyReplicas реализует Prober.
func (p *LocalProber) ReadyReplicas(_ context.Context, service string) (int, int, error) {
	p.mu.Lock()
	ctrl := p.ctrl
	p.mu.Unlock()

	if ctrl == nil {
		return 0, 0, fmt.Errorf("%w: prober is not bound", ErrUnknownService)
	}

	spec, err := ctrl.Current(service)
	if err != nil {
		return 0, 0, err
	}
	return spec.Replicas, spec.Replicas, nil
}
