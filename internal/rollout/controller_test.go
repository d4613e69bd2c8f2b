package rollout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Modelflow/internal/domain"
)

func newTestController(prober Prober) *Controller {
	return New(Config{
		Prober:       prober,
		PollInterval: 5 * time.Millisecond,
	})
}

func TestApply_ClampsReplicas(t *testing.T) {
	c := newTestController(NewStaticProber())
	ctx := context.Background()

	// Ниже минимума — поднимается до min_replicas
	spec, err := c.Apply(ctx, domain.DeploymentSpec{
		Service: "svc", Replicas: 1, MinReplicas: 2, MaxReplicas: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Replicas != 2 {
		t.Errorf("expected replicas clamped to 2, got %d", spec.Replicas)
	}

	// Выше максимума — опускается до max_replicas
	spec, err = c.Apply(ctx, domain.DeploymentSpec{
		Service: "svc", Replicas: 10, MinReplicas: 2, MaxReplicas: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Replicas != 5 {
		t.Errorf("expected replicas clamped to 5, got %d", spec.Replicas)
	}
}

func TestApply_Invalid(t *testing.T) {
	c := newTestController(NewStaticProber())
	ctx := context.Background()

	cases := []domain.DeploymentSpec{
		{Replicas: 3},                    // пустой сервис
		{Service: "svc"},                 // нулевые реплики
		{Service: "svc", Replicas: 3, MinReplicas: 5, MaxReplicas: 4}, // min > max
	}
	for _, spec := range cases {
		if _, err := c.Apply(ctx, spec); !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("expected ErrInvalidSpec for %+v, got %v", spec, err)
		}
	}
}

func TestApply_ReplacesPrevious(t *testing.T) {
	c := newTestController(NewStaticProber())
	ctx := context.Background()

	if _, err := c.Apply(ctx, domain.DeploymentSpec{
		Service: "svc", Replicas: 2, Model: "m", ModelVersion: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Apply(ctx, domain.DeploymentSpec{
		Service: "svc", Replicas: 3, Model: "m", ModelVersion: 2,
	}); err != nil {
		t.Fatal(err)
	}

	current, err := c.Current("svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.ModelVersion != 2 || current.Replicas != 3 {
		t.Errorf("expected v2 with 3 replicas, got v%d with %d", current.ModelVersion, current.Replicas)
	}
}

func TestObserveHealth(t *testing.T) {
	prober := NewStaticProber()
	c := newTestController(prober)
	ctx := context.Background()

	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 3}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		ready, total int
		want         domain.HealthStatus
	}{
		{3, 3, domain.HealthHealthy},
		{1, 3, domain.HealthDegraded},
		{0, 3, domain.HealthUnavailable},
	}
	for _, tc := range cases {
		prober.Set("svc", tc.ready, tc.total)
		got, err := c.ObserveHealth(ctx, "svc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Errorf("ready=%d/%d: expected %s, got %s", tc.ready, tc.total, tc.want, got)
		}
	}

	if _, err := c.ObserveHealth(ctx, "ghost"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestWaitHealthy_Succeeds(t *testing.T) {
	prober := NewStaticProber()
	c := newTestController(prober)
	ctx := context.Background()

	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 4}); err != nil {
		t.Fatal(err)
	}

	// 3 из 4 готовы: хватает для доли 0.75
	prober.Set("svc", 3, 4)
	if err := c.WaitHealthy(ctx, "svc", 0.75, 200*time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWaitHealthy_Timeout(t *testing.T) {
	prober := NewStaticProber()
	c := newTestController(prober)
	ctx := context.Background()

	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 4}); err != nil {
		t.Fatal(err)
	}

	prober.Set("svc", 1, 4)
	err := c.WaitHealthy(ctx, "svc", 1.0, 30*time.Millisecond)
	if !errors.Is(err, ErrRolloutTimeout) {
		t.Errorf("expected ErrRolloutTimeout, got %v", err)
	}
}

func TestWaitHealthy_RecoversDuringWait(t *testing.T) {
	prober := NewStaticProber()
	c := newTestController(prober)
	ctx := context.Background()

	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 2}); err != nil {
		t.Fatal(err)
	}

	prober.Set("svc", 0, 2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		prober.Set("svc", 2, 2)
	}()

	if err := c.WaitHealthy(ctx, "svc", 1.0, 500*time.Millisecond); err != nil {
		t.Errorf("expected recovery within timeout, got %v", err)
	}
}

func TestLocalProber_TracksAppliedSpec(t *testing.T) {
	prober := NewLocalProber()
	c := newTestController(prober)
	prober.Bind(c)
	ctx := context.Background()

	if _, _, err := prober.ReadyReplicas(ctx, "svc"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService before apply, got %v", err)
	}

	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 3}); err != nil {
		t.Fatal(err)
	}

	ready, total, err := prober.ReadyReplicas(ctx, "svc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready != 3 || total != 3 {
		t.Errorf("expected 3/3 replicas, got %d/%d", ready, total)
	}

	// Выкатка сходится сразу: WaitHealthy возвращается без ожидания
	if err := c.WaitHealthy(ctx, "svc", 1.0, 100*time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWaitHealthy_ContextCancelled(t *testing.T) {
	prober := NewStaticProber()
	c := newTestController(prober)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.Apply(ctx, domain.DeploymentSpec{Service: "svc", Replicas: 2}); err != nil {
		t.Fatal(err)
	}
	prober.Set("svc", 0, 2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := c.WaitHealthy(ctx, "svc", 1.0, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
