package service

import (
	"context"
	"sync"
	"time"

	"agroassist-auth/internal/models"
	"agroassist-auth/internal/repository/scylla"
)

// In-memory stand-ins for the Scylla repositories and the Redis attempt
// counter. They implement the same interfaces the services consume.

type fakeUserStore struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	byEmail map[string]string
	byPhone map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (f *fakeUserStore) Create(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.UserID == "" {
		user.UserID = "u-" + user.Email
	}
	user.CreatedAt = time.Now().UTC()
	f.byID[user.UserID] = user
	f.byEmail[user.Email] = user.UserID
	if user.PhoneHash != "" {
		f.byPhone[user.PhoneHash] = user.UserID
	}
	return nil
}

func (f *fakeUserStore) GetByID(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.byID[userID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	userID, ok := f.byEmail[email]
	f.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return f.GetByID(ctx, userID)
}

func (f *fakeUserStore) FindByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	f.mu.Lock()
	userID, ok := f.byPhone[phoneHash]
	f.mu.Unlock()
	if !ok {
		return nil, scylla.ErrNotFound
	}
	return f.GetByID(ctx, userID)
}

func (f *fakeUserStore) EmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byEmail[email]
	return ok, nil
}

func (f *fakeUserStore) PhoneExists(_ context.Context, phoneHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byPhone[phoneHash]
	return ok, nil
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[userID]; ok {
		user.LastLogin = &at
	}
	return nil
}

func (f *fakeUserStore) UpdateLockState(_ context.Context, userID string, attempts int, lockUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[userID]; ok {
		user.FailedLoginAttempts = attempts
		user.LockUntil = lockUntil
	}
	return nil
}

func (f *fakeUserStore) SetEmailVerified(_ context.Context, userID string, verified bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[userID]; ok {
		user.IsEmailVerified = verified
	}
	return nil
}

func (f *fakeUserStore) SetPhoneVerified(_ context.Context, userID string, verified bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[userID]; ok {
		user.IsPhoneVerified = verified
	}
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.byID[userID]; ok {
		user.PasswordHash = passwordHash
	}
	return nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]map[string]*models.RefreshTokenSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]map[string]*models.RefreshTokenSession),
	}
}

func (f *fakeSessionStore) Put(_ context.Context, session *models.RefreshTokenSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[session.UserID] == nil {
		f.sessions[session.UserID] = make(map[string]*models.RefreshTokenSession)
	}
	copied := *session
	f.sessions[session.UserID][session.TokenID] = &copied
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, userID, tokenID string) (*models.RefreshTokenSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[userID][tokenID]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) List(_ context.Context, userID string) ([]*models.RefreshTokenSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RefreshTokenSession
	for _, session := range f.sessions[userID] {
		copied := *session
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeSessionStore) Touch(_ context.Context, userID, tokenID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[userID][tokenID]; ok {
		session.LastUsed = at
	}
	return nil
}

func (f *fakeSessionStore) Delete(_ context.Context, userID string, tokenIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tokenID := range tokenIDs {
		delete(f.sessions[userID], tokenID)
	}
	return nil
}

func (f *fakeSessionStore) DeleteAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, userID)
	return nil
}

func (f *fakeSessionStore) Replace(ctx context.Context, session *models.RefreshTokenSession, evictTokenIDs []string) error {
	if err := f.Delete(ctx, session.UserID, evictTokenIDs...); err != nil {
		return err
	}
	return f.Put(ctx, session)
}

func (f *fakeSessionStore) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions[userID])
}

type fakeOTPStore struct {
	mu      sync.Mutex
	records map[string]*models.OTPVerification
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{records: make(map[string]*models.OTPVerification)}
}

func otpKey(identifier string, purpose models.OTPPurpose) string {
	return identifier + "|" + string(purpose)
}

func (f *fakeOTPStore) Put(_ context.Context, otp *models.OTPVerification, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *otp
	f.records[otpKey(otp.Identifier, otp.Purpose)] = &copied
	return nil
}

func (f *fakeOTPStore) Get(_ context.Context, identifier string, purpose models.OTPPurpose) (*models.OTPVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[otpKey(identifier, purpose)]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeOTPStore) SetAttempts(_ context.Context, identifier string, purpose models.OTPPurpose, attempts int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[otpKey(identifier, purpose)]; ok {
		record.Attempts = attempts
		record.LastAttemptAt = &at
	}
	return nil
}

func (f *fakeOTPStore) MarkVerified(_ context.Context, identifier string, purpose models.OTPPurpose, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[otpKey(identifier, purpose)]; ok {
		record.Verified = true
		record.VerifiedAt = &at
	}
	return nil
}

func (f *fakeOTPStore) Each(_ context.Context, fn func(otp *models.OTPVerification) bool) error {
	// Snapshot first: fn may call back into the store.
	f.mu.Lock()
	records := make([]*models.OTPVerification, 0, len(f.records))
	for _, record := range f.records {
		copied := *record
		records = append(records, &copied)
	}
	f.mu.Unlock()

	for _, record := range records {
		if !fn(record) {
			return nil
		}
	}
	return nil
}

func (f *fakeOTPStore) Delete(_ context.Context, identifier string, purpose models.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, otpKey(identifier, purpose))
	return nil
}

type fakeBlockListStore struct {
	mu      sync.Mutex
	entries map[string]*models.BlockListEntry
}

func newFakeBlockListStore() *fakeBlockListStore {
	return &fakeBlockListStore{entries: make(map[string]*models.BlockListEntry)}
}

func (f *fakeBlockListStore) Block(_ context.Context, entry *models.BlockListEntry, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *entry
	f.entries[entry.Identifier] = &copied
	return nil
}

func (f *fakeBlockListStore) Unblock(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, identifier)
	return nil
}

func (f *fakeBlockListStore) Get(_ context.Context, identifier string) (*models.BlockListEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[identifier]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeBlockListStore) IsBlocked(_ context.Context, identifiers []string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range identifiers {
		if entry, ok := f.entries[id]; ok && entry.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

type memAttemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemAttemptCounter() *memAttemptCounter {
	return &memAttemptCounter{counts: make(map[string]int)}
}

func (m *memAttemptCounter) Increment(_ context.Context, identifier string, purpose models.OTPPurpose, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := otpKey(identifier, purpose)
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttemptCounter) Reset(_ context.Context, identifier string, purpose models.OTPPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, otpKey(identifier, purpose))
	return nil
}

type captureAuditor struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (c *captureAuditor) Record(event *models.SecurityEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAuditor) count(eventType models.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, event := range c.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type captureSender struct {
	mu    sync.Mutex
	sent  []string
	codes map[string]string
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: make(map[string]string)}
}

func (c *captureSender) Send(_ context.Context, identifier, code string, purpose models.OTPPurpose, _ models.DeliveryMethod) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, identifier)
	c.codes[otpKey(identifier, purpose)] = code
	return nil
}

func (c *captureSender) lastCode(identifier string, purpose models.OTPPurpose) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[otpKey(identifier, purpose)]
}

func (c *captureSender) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}
