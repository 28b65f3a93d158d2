// Package lifecycle manages pools of single-use template instances. An
// instance moves from unused to used exactly once; an approval reserves
// one, renders it and then commits, releases or discards the reservation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/store"
)

// ErrEmptyTemplatePool means a service has no unused instance left.
var ErrEmptyTemplatePool = errors.New("template pool is empty")

type Manager struct {
	store  store.Instances
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(s store.Instances, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, logger: logger, now: time.Now}
}

// Reservation holds one instance for one request until it is committed or
// released or discarded. All three are no-ops once one of them succeeded.
type Reservation struct {
	m        *Manager
	Instance models.TemplateInstance
	done     bool
}

func (m *Manager) Register(ctx context.Context, serviceID string, refs ...string) ([]models.TemplateInstance, error) {
	instances := make([]models.TemplateInstance, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			return nil, fmt.Errorf("instance reference must not be empty")
		}
		instances = append(instances, models.TemplateInstance{
			ID:        uuid.New().String(),
			ServiceID: serviceID,
			Ref:       ref,
		})
	}
	if err := m.store.AddInstances(ctx, instances); err != nil {
		return nil, err
	}
	m.logger.Info("registered template instances",
		zap.String("service_id", serviceID), zap.Int("count", len(instances)))
	return instances, nil
}

// Reserve takes an unused instance for requestID. Concurrent callers never
// receive the same instance.
func (m *Manager) Reserve(ctx context.Context, serviceID, requestID string) (*Reservation, error) {
	inst, err := m.store.ClaimInstance(ctx, serviceID, requestID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("template pool exhausted",
			zap.String("service_id", serviceID), zap.String("request_id", requestID))
		return nil, ErrEmptyTemplatePool
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve template instance: %w", err)
	}
	return &Reservation{m: m, Instance: *inst}, nil
}

// Held returns a reservation for the unused instance requestID still
// holds, or nil when it holds none.
func (m *Manager) Held(ctx context.Context, serviceID, requestID string) (*Reservation, error) {
	if requestID == "" {
		return nil, nil
	}
	pool, err := m.store.ListInstances(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for _, inst := range pool {
		if !inst.Used && inst.RequestID == requestID {
			return &Reservation{m: m, Instance: inst}, nil
		}
	}
	return nil, nil
}

func (m *Manager) Available(ctx context.Context, serviceID string) (int64, error) {
	return m.store.CountAvailable(ctx, serviceID)
}

func (m *Manager) Instances(ctx context.Context, serviceID string) ([]models.TemplateInstance, error) {
	return m.store.ListInstances(ctx, serviceID)
}

// Commit marks the instance used.
func (r *Reservation) Commit(ctx context.Context) error {
	if r.done {
		return nil
	}
	if err := r.m.store.UseInstance(ctx, r.Instance.ID, r.Instance.RequestID, r.m.now()); err != nil {
		return fmt.Errorf("failed to commit template instance %s: %w", r.Instance.ID, err)
	}
	r.done = true
	return nil
}

// Release puts the instance back into the pool.
func (r *Reservation) Release(ctx context.Context) error {
	if r.done {
		return nil
	}
	if err := r.m.store.ReleaseInstance(ctx, r.Instance.ID, r.Instance.RequestID); err != nil {
		return fmt.Errorf("failed to release template instance %s: %w", r.Instance.ID, err)
	}
	r.done = true
	r.m.logger.Info("released template instance",
		zap.String("instance_id", r.Instance.ID), zap.String("request_id", r.Instance.RequestID))
	return nil
}

// Discard retires the instance instead of releasing it. Used when a
// failed render may already have written into the instance.
func (r *Reservation) Discard(ctx context.Context) error {
	if r.done {
		return nil
	}
	if err := r.m.store.DiscardInstance(ctx, r.Instance.ID, r.Instance.RequestID, r.m.now()); err != nil {
		return fmt.Errorf("failed to discard template instance %s: %w", r.Instance.ID, err)
	}
	r.done = true
	r.m.logger.Warn("discarded template instance",
		zap.String("instance_id", r.Instance.ID), zap.String("request_id", r.Instance.RequestID))
	return nil
}
