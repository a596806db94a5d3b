package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"agroassist-auth/internal/models"
)

// BlockListStore tracks identifiers denied new OTP issuance. Email
// identifiers can also be blocked at domain granularity; the service
// checks both the exact identifier and its domain.
type BlockListStore interface {
	Block(ctx context.Context, entry *models.BlockListEntry, ttl time.Duration) error
	Unblock(ctx context.Context, identifier string) error
	Get(ctx context.Context, identifier string) (*models.BlockListEntry, error)
	IsBlocked(ctx context.Context, identifiers []string, now time.Time) (bool, error)
}

type BlockListRepository struct {
	client *ScyllaClient
}

func NewBlockListRepository(client *ScyllaClient) *BlockListRepository {
	return &BlockListRepository{client: client}
}

// Block upserts the entry; blocking an already blocked identifier just
// refreshes it.
func (r *BlockListRepository) Block(ctx context.Context, entry *models.BlockListEntry, ttl time.Duration) error {
	query := r.client.Prepared.UpsertBlock.Bind(
		entry.Identifier, entry.Reason, entry.BlockedAt, entry.ExpiresAt,
		entry.IsActive, int(ttl.Seconds()),
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to block identifier: %w", err)
	}
	return nil
}

// Unblock removes the entry. Unblocking an unknown identifier is a no-op.
func (r *BlockListRepository) Unblock(ctx context.Context, identifier string) error {
	query := r.client.Prepared.DeleteBlock.Bind(identifier).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to unblock identifier: %w", err)
	}
	return nil
}

func (r *BlockListRepository) Get(ctx context.Context, identifier string) (*models.BlockListEntry, error) {
	entry := &models.BlockListEntry{}

	query := r.client.Prepared.GetBlock.Bind(identifier).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&entry.Identifier, &entry.Reason, &entry.BlockedAt,
		&entry.ExpiresAt, &entry.IsActive)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block entry: %w", err)
	}
	return entry, nil
}

// IsBlocked reports whether any of the given identifiers has an active
// entry at the given instant.
func (r *BlockListRepository) IsBlocked(ctx context.Context, identifiers []string, now time.Time) (bool, error) {
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		entry, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if entry.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}
