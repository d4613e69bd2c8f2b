// Package runner содержит выполнение отдельных стадий run.
//
// Runner разрешает тип обработчика через Registry, применяет таймаут
// стадии и проверяет контракт обработчика (все объявленные output-слоты
// произведены). Решения о retry принимает orchestrator на основе
// классификации ошибки (IsRetryable).
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Runner выполняет стадии через зарегистрированные обработчики.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// New создаёт Runner.
func New(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: registry,
		logger:   logger,
	}
}

// Run выполняет одну стадию.
//
// Ошибки классифицированы:
//   - неизвестный обработчик — фатальная
//   - превышение таймаута — retryable (ErrStageTimeout)
//   - непроизведённый output — фатальная (ErrMissingOutput)
//   - ошибки обработчика — как классифицировал сам обработчик
func (r *Runner) Run(ctx context.Context, req *Request) (*Result, error) {
	handler, err := r.registry.Get(req.Stage.Handler)
	if err != nil {
		return nil, Fatal(err)
	}

	timeout := req.Pipeline.StageTimeout(req.Stage)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := handler.Execute(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		// Дедлайн стадии превращаем в retryable таймаут; отмену run
		// пробрасываем как есть.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return nil, Transient(fmt.Errorf("%w: %s after %s", ErrStageTimeout, req.Stage.Name, elapsed.Round(time.Millisecond)))
		}
		return nil, err
	}

	if result == nil {
		result = NewResult()
	}

	for _, out := range req.Stage.Outputs {
		if _, produced := result.Outputs[out]; !produced {
			return nil, Fatal(fmt.Errorf("%w: stage %s, slot %q", ErrMissingOutput, req.Stage.Name, out))
		}
	}

	r.logger.Debug("stage handler finished",
		"run_id", req.RunID,
		"stage", req.Stage.Name,
		"handler", req.Stage.Handler,
		"duration_ms", elapsed.Milliseconds(),
	)

	return result, nil
}
