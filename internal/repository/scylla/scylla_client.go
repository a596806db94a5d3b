package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"agroassist-auth/internal/config"
	"agroassist-auth/internal/util"
)

// PreparedStatements holds every statement the repositories execute.
// Preparing once at startup keeps the hot paths off the parser.
type PreparedStatements struct {
	CreateUser       *gocql.Query
	CreateEmailIndex *gocql.Query
	CreatePhoneIndex *gocql.Query
	GetUserByID      *gocql.Query
	GetUserIDByEmail *gocql.Query
	GetUserIDByPhone *gocql.Query
	UpdateLastLogin  *gocql.Query
	UpdateLockState  *gocql.Query
	SetEmailVerified *gocql.Query
	SetPhoneVerified *gocql.Query
	UpdatePassword   *gocql.Query

	InsertSession     *gocql.Query
	ListSessions      *gocql.Query
	GetSession        *gocql.Query
	TouchSession      *gocql.Query
	DeleteSession     *gocql.Query
	DeleteAllSessions *gocql.Query

	UpsertOTP         *gocql.Query
	GetOTP            *gocql.Query
	ScanOTPs          *gocql.Query
	UpdateOTPAttempts *gocql.Query
	MarkOTPVerified   *gocql.Query
	DeleteOTP         *gocql.Query

	UpsertBlock *gocql.Query
	GetBlock    *gocql.Query
	DeleteBlock *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		util.Any("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, email, password_hash, role, country_code,
            phone_hash, phone_encrypted, phone_dek, phone_key_id,
            is_email_verified, is_phone_verified, failed_login_attempts,
            lock_until, created_at, updated_at, last_login
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateEmailIndex = s.Session.Query(`
        INSERT INTO user_emails (email, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.CreatePhoneIndex = s.Session.Query(`
        INSERT INTO user_phones (phone_hash, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, email, password_hash, role, country_code,
            phone_hash, phone_encrypted, phone_dek, phone_key_id,
            is_email_verified, is_phone_verified, failed_login_attempts,
            lock_until, created_at, updated_at, last_login
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.GetUserIDByEmail = s.Session.Query(`
        SELECT user_bucket, user_id FROM user_emails WHERE email = ?`)

	prepared.GetUserIDByPhone = s.Session.Query(`
        SELECT user_bucket, user_id FROM user_phones WHERE phone_hash = ?`)

	prepared.UpdateLastLogin = s.Session.Query(`
        UPDATE users SET last_login = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateLockState = s.Session.Query(`
        UPDATE users SET failed_login_attempts = ?, lock_until = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetEmailVerified = s.Session.Query(`
        UPDATE users SET is_email_verified = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.SetPhoneVerified = s.Session.Query(`
        UPDATE users SET is_phone_verified = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdatePassword = s.Session.Query(`
        UPDATE users SET password_hash = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.InsertSession = s.Session.Query(`
        INSERT INTO refresh_sessions (
            user_id, token_id, token, created_at, expires_at, last_used,
            user_agent, ip
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.ListSessions = s.Session.Query(`
        SELECT user_id, token_id, token, created_at, expires_at, last_used,
            user_agent, ip
        FROM refresh_sessions WHERE user_id = ?`)

	prepared.GetSession = s.Session.Query(`
        SELECT user_id, token_id, token, created_at, expires_at, last_used,
            user_agent, ip
        FROM refresh_sessions WHERE user_id = ? AND token_id = ?`)

	prepared.TouchSession = s.Session.Query(`
        UPDATE refresh_sessions SET last_used = ?
        WHERE user_id = ? AND token_id = ?`)

	prepared.DeleteSession = s.Session.Query(`
        DELETE FROM refresh_sessions WHERE user_id = ? AND token_id = ?`)

	prepared.DeleteAllSessions = s.Session.Query(`
        DELETE FROM refresh_sessions WHERE user_id = ?`)

	prepared.UpsertOTP = s.Session.Query(`
        INSERT INTO otp_verifications (
            identifier, purpose, otp_hash, otp_salt, algorithm, attempts,
            max_attempts, expires_at, verified, verified_at, last_attempt_at,
            created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetOTP = s.Session.Query(`
        SELECT identifier, purpose, otp_hash, otp_salt, algorithm, attempts,
            max_attempts, expires_at, verified, verified_at, last_attempt_at,
            created_at
        FROM otp_verifications WHERE identifier = ? AND purpose = ?`)

	prepared.ScanOTPs = s.Session.Query(`
        SELECT identifier, purpose, expires_at, verified
        FROM otp_verifications`)

	prepared.UpdateOTPAttempts = s.Session.Query(`
        UPDATE otp_verifications SET attempts = ?, last_attempt_at = ?
        WHERE identifier = ? AND purpose = ?`)

	prepared.MarkOTPVerified = s.Session.Query(`
        UPDATE otp_verifications SET verified = ?, verified_at = ?
        WHERE identifier = ? AND purpose = ?`)

	prepared.DeleteOTP = s.Session.Query(`
        DELETE FROM otp_verifications WHERE identifier = ? AND purpose = ?`)

	prepared.UpsertBlock = s.Session.Query(`
        INSERT INTO block_list (identifier, reason, blocked_at, expires_at, is_active)
        VALUES (?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetBlock = s.Session.Query(`
        SELECT identifier, reason, blocked_at, expires_at, is_active
        FROM block_list WHERE identifier = ?`)

	prepared.DeleteBlock = s.Session.Query(`
        DELETE FROM block_list WHERE identifier = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient failures with linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			if err == gocql.ErrNotFound {
				return err
			}
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
