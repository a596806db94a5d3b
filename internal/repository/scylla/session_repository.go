package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"agroassist-auth/internal/models"
	"agroassist-auth/internal/util"
)

// SessionStore persists refresh-token sessions. Rows carry a TTL matching
// the refresh lifetime so expired sessions age out on their own; the
// service still filters by expires_at for correctness between sweeps.
type SessionStore interface {
	Put(ctx context.Context, session *models.RefreshTokenSession) error
	Get(ctx context.Context, userID, tokenID string) (*models.RefreshTokenSession, error)
	List(ctx context.Context, userID string) ([]*models.RefreshTokenSession, error)
	Touch(ctx context.Context, userID, tokenID string, at time.Time) error
	Delete(ctx context.Context, userID string, tokenIDs ...string) error
	DeleteAll(ctx context.Context, userID string) error
	Replace(ctx context.Context, session *models.RefreshTokenSession, evictTokenIDs []string) error
}

type SessionRepository struct {
	client *ScyllaClient
	ttl    time.Duration
}

func NewSessionRepository(client *ScyllaClient, ttl time.Duration) *SessionRepository {
	return &SessionRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *SessionRepository) Put(ctx context.Context, session *models.RefreshTokenSession) error {
	query := r.client.Prepared.InsertSession.Bind(
		session.UserID, session.TokenID, session.Token,
		session.CreatedAt, session.ExpiresAt, session.LastUsed,
		session.UserAgent, session.IP,
		int(r.ttl.Seconds()),
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, userID, tokenID string) (*models.RefreshTokenSession, error) {
	session := &models.RefreshTokenSession{}

	query := r.client.Prepared.GetSession.Bind(userID, tokenID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&session.UserID, &session.TokenID, &session.Token,
		&session.CreatedAt, &session.ExpiresAt, &session.LastUsed,
		&session.UserAgent, &session.IP)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) List(ctx context.Context, userID string) ([]*models.RefreshTokenSession, error) {
	iter := r.client.Prepared.ListSessions.Bind(userID).WithContext(ctx).Iter()

	var sessions []*models.RefreshTokenSession
	for {
		session := &models.RefreshTokenSession{}
		if !iter.Scan(
			&session.UserID, &session.TokenID, &session.Token,
			&session.CreatedAt, &session.ExpiresAt, &session.LastUsed,
			&session.UserAgent, &session.IP) {
			break
		}
		sessions = append(sessions, session)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Touch(ctx context.Context, userID, tokenID string, at time.Time) error {
	query := r.client.Prepared.TouchSession.Bind(at, userID, tokenID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, userID string, tokenIDs ...string) error {
	for _, tokenID := range tokenIDs {
		query := r.client.Prepared.DeleteSession.Bind(userID, tokenID).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 3); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteAll(ctx context.Context, userID string) error {
	query := r.client.Prepared.DeleteAllSessions.Bind(userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

// Replace inserts a new session and removes evicted ones in a single
// logged batch, so the per-user cap holds even if the process dies
// between the two steps.
func (r *SessionRepository) Replace(ctx context.Context, session *models.RefreshTokenSession, evictTokenIDs []string) error {
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.InsertSession.Statement(),
		session.UserID, session.TokenID, session.Token,
		session.CreatedAt, session.ExpiresAt, session.LastUsed,
		session.UserAgent, session.IP,
		int(r.ttl.Seconds()))

	for _, tokenID := range evictTokenIDs {
		batch.Query(r.client.Prepared.DeleteSession.Statement(),
			session.UserID, tokenID)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("failed to replace session",
			util.String("user_id", session.UserID),
			util.Int("evicted", len(evictTokenIDs)),
			util.ErrorField(err))
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}
