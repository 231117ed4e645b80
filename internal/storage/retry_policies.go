package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultRetryPolicy is used when a service has no row in retry_policies.
var DefaultRetryPolicy = RetryPolicy{
	ServiceName:      "default",
	MaxRetries:       3,
	BaseDelaySeconds: 1,
	MaxDelaySeconds:  60,
	ExponentialBase:  2,
	JitterEnabled:    true,
}

// RetryPolicyRepository reads per-service retry parameters.
type RetryPolicyRepository struct {
	db DB
}

// NewRetryPolicyRepository creates a new retry policy repository.
func NewRetryPolicyRepository(db DB) *RetryPolicyRepository {
	return &RetryPolicyRepository{db: db}
}

// GetForService returns the policy for a service, falling back to
// DefaultRetryPolicy when none is configured.
func (r *RetryPolicyRepository) GetForService(ctx context.Context, service string) (RetryPolicy, error) {
	p := RetryPolicy{}
	err := r.db.QueryRowContext(ctx, `
		SELECT service_name, max_retries, base_delay_seconds, max_delay_seconds, exponential_base, jitter_enabled
		FROM retry_policies WHERE service_name = $1
	`, service).Scan(&p.ServiceName, &p.MaxRetries, &p.BaseDelaySeconds, &p.MaxDelaySeconds, &p.ExponentialBase, &p.JitterEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		p = DefaultRetryPolicy
		p.ServiceName = service
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("get retry policy %s: %w", service, err)
	}
	return p, nil
}

// Upsert writes a policy row.
func (r *RetryPolicyRepository) Upsert(ctx context.Context, p RetryPolicy) error {
	query := `
		INSERT INTO retry_policies (service_name, max_retries, base_delay_seconds, max_delay_seconds, exponential_base, jitter_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_name) DO UPDATE
		SET max_retries = EXCLUDED.max_retries,
			base_delay_seconds = EXCLUDED.base_delay_seconds,
			max_delay_seconds = EXCLUDED.max_delay_seconds,
			exponential_base = EXCLUDED.exponential_base,
			jitter_enabled = EXCLUDED.jitter_enabled
	`
	if _, err := r.db.ExecContext(ctx, query,
		p.ServiceName, p.MaxRetries, p.BaseDelaySeconds, p.MaxDelaySeconds, p.ExponentialBase, p.JitterEnabled); err != nil {
		return fmt.Errorf("upsert retry policy %s: %w", p.ServiceName, err)
	}
	return nil
}
