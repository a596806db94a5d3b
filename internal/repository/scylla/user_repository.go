package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"agroassist-auth/internal/bucketing"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/util"
)

// ErrNotFound is returned when a lookup matches no row. Services map it
// onto their own sentinels so handlers never see storage errors.
var ErrNotFound = errors.New("record not found")

// UserStore is the persistence surface the auth service depends on.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	PhoneExists(ctx context.Context, phoneHash string) (bool, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	UpdateLockState(ctx context.Context, userID string, attempts int, lockUntil *time.Time) error
	SetEmailVerified(ctx context.Context, userID string, verified bool) error
	SetPhoneVerified(ctx context.Context, userID string, verified bool) error
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error
}

type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
	}
}

// Create inserts the user row plus the email and phone lookup rows in one
// logged batch so the indexes never drift from the main table.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.UserBucket = r.buckets.UserBucket(user.UserID)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = &now

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.UserID, user.Email, user.PasswordHash,
		string(user.Role), user.CountryCode, user.PhoneHash,
		user.PhoneEncrypted, user.PhoneDEK, user.PhoneKeyID,
		user.IsEmailVerified, user.IsPhoneVerified, user.FailedLoginAttempts,
		user.LockUntil, user.CreatedAt, user.UpdatedAt, user.LastLogin)

	batch.Query(r.client.Prepared.CreateEmailIndex.Statement(),
		user.Email, user.UserBucket, user.UserID, now)

	if user.PhoneHash != "" {
		batch.Query(r.client.Prepared.CreatePhoneIndex.Statement(),
			user.PhoneHash, user.UserBucket, user.UserID, now)
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("failed to create user",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("user created",
		util.String("user_id", user.UserID),
		util.String("role", string(user.Role)))
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	bucket := r.buckets.UserBucket(userID)
	user := &models.User{}

	query := r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx)
	if err := r.scanUser(query, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	userID, err := r.lookupID(ctx, r.client.Prepared.GetUserIDByEmail, email)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) FindByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	userID, err := r.lookupID(ctx, r.client.Prepared.GetUserIDByPhone, phoneHash)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, userID)
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.lookupID(ctx, r.client.Prepared.GetUserIDByEmail, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *UserRepository) PhoneExists(ctx context.Context, phoneHash string) (bool, error) {
	_, err := r.lookupID(ctx, r.client.Prepared.GetUserIDByPhone, phoneHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.UpdateLastLogin.Bind(at, time.Now().UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdateLockState mirrors the limiter's view onto the durable record so
// support tooling can see a lock without touching Redis.
func (r *UserRepository) UpdateLockState(ctx context.Context, userID string, attempts int, lockUntil *time.Time) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.UpdateLockState.Bind(attempts, lockUntil, time.Now().UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update lock state: %w", err)
	}
	return nil
}

func (r *UserRepository) SetEmailVerified(ctx context.Context, userID string, verified bool) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.SetEmailVerified.Bind(verified, time.Now().UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to set email verified: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPhoneVerified(ctx context.Context, userID string, verified bool) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.SetPhoneVerified.Bind(verified, time.Now().UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to set phone verified: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.UpdatePassword.Bind(passwordHash, time.Now().UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (r *UserRepository) lookupID(ctx context.Context, stmt *gocql.Query, key string) (string, error) {
	var bucket int
	var userID string

	query := stmt.Bind(key).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to look up user id: %w", err)
	}
	return userID, nil
}

func (r *UserRepository) scanUser(query *gocql.Query, user *models.User) error {
	var role string
	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.Email, &user.PasswordHash,
		&role, &user.CountryCode, &user.PhoneHash,
		&user.PhoneEncrypted, &user.PhoneDEK, &user.PhoneKeyID,
		&user.IsEmailVerified, &user.IsPhoneVerified, &user.FailedLoginAttempts,
		&user.LockUntil, &user.CreatedAt, &user.UpdatedAt, &user.LastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	user.Role = models.Role(role)
	return nil
}
