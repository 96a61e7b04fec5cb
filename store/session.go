package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/cfipros/acstracker/internal/pipeline"
)

// SessionStatus represents the overall status of a processing session.
// Transitions are monotonic; completed and failed are terminal.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// ErrSessionNotFound is returned when a session does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionResult is the aggregated summary attached to a completed session.
// Steps fill their own fragment; partial results written by earlier steps
// stay visible even when a later step fails.
type SessionResult struct {
	TotalQuestions   int      `json:"totalQuestions"`
	CorrectAnswers   int      `json:"correctAnswers"`
	IncorrectAnswers int      `json:"incorrectAnswers"`
	OverallScore     float64  `json:"overallScore"`
	WeakAreas        []string `json:"weakAreas"`
	StrongAreas      []string `json:"strongAreas"`
}

// Session is the object representing one processing run.
type Session struct {
	ID            int32
	UID           string
	CreatorID     string
	CreatedTs     int64
	UpdatedTs     int64
	Name          string
	Status        SessionStatus
	FailureReason string
	InputRefs     []string
	Ledger        pipeline.Ledger
	Result        *SessionResult
}

// FindSession is the find condition for session.
type FindSession struct {
	ID        *int32
	UID       *string
	CreatorID *string
	Status    *SessionStatus

	// Pagination
	Limit  *int
	Offset *int
}

// UpdateSession is the update request for session.
type UpdateSession struct {
	UID           string
	UpdatedTs     *int64
	Name          *string
	Status        *SessionStatus
	FailureReason *string
	Ledger        *pipeline.Ledger
	Result        *SessionResult
}

// DeleteSession is the delete request for session.
type DeleteSession struct {
	UID string
}

// CreateSession creates a new session with a fresh UID and an initial ledger.
func (s *Store) CreateSession(ctx context.Context, creatorID string, name string, inputRefs []string, stepNames []string) (*Session, error) {
	if len(inputRefs) == 0 {
		return nil, errors.New("input refs must not be empty")
	}
	ledger, err := pipeline.NewLedger(stepNames)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build initial ledger")
	}

	create := &Session{
		UID:       shortuuid.New(),
		CreatorID: creatorID,
		Name:      name,
		Status:    SessionStatusPending,
		InputRefs: inputRefs,
		Ledger:    ledger,
	}
	session, err := s.driver.CreateSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(ctx, session.UID, session)
	return session, nil
}

// GetSession returns the session matching the find condition, or nil when absent.
func (s *Store) GetSession(ctx context.Context, find *FindSession) (*Session, error) {
	if find.UID != nil && find.ID == nil && find.CreatorID == nil && find.Status == nil {
		if cached, ok := s.sessionCache.Get(ctx, *find.UID); ok {
			if session, ok := cached.(*Session); ok {
				return session, nil
			}
		}
	}

	limit := 1
	find.Limit = &limit
	list, err := s.driver.ListSessions(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	session := list[0]
	s.cacheSession(ctx, session)
	return session, nil
}

// cacheSession fills the read cache under the session's mutation lock so a
// read racing a MutateSession cannot overwrite the fresher entry the
// mutation just wrote. On equal timestamps the committed entry wins.
func (s *Store) cacheSession(ctx context.Context, session *Session) {
	lock := s.sessionLock(session.UID)
	lock.Lock()
	defer lock.Unlock()

	if cached, ok := s.sessionCache.Get(ctx, session.UID); ok {
		if existing, ok := cached.(*Session); ok && existing.UpdatedTs >= session.UpdatedTs {
			return
		}
	}
	s.sessionCache.Set(ctx, session.UID, session)
}

// ListSessions lists sessions with filter.
func (s *Store) ListSessions(ctx context.Context, find *FindSession) ([]*Session, error) {
	return s.driver.ListSessions(ctx, find)
}

// MutateSession applies fn to the session under an exclusive per-session lock,
// persists the result and returns it. No two concurrent mutations of the same
// session interleave; unrelated sessions proceed independently.
func (s *Store) MutateSession(ctx context.Context, uid string, fn func(*Session) error) (*Session, error) {
	lock := s.sessionLock(uid)
	lock.Lock()
	defer lock.Unlock()

	list, err := s.driver.ListSessions(ctx, &FindSession{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrSessionNotFound, "uid: %s", uid)
	}
	session := list[0]

	if err := fn(session); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	session.UpdatedTs = now
	update := &UpdateSession{
		UID:           session.UID,
		UpdatedTs:     &now,
		Status:        &session.Status,
		FailureReason: &session.FailureReason,
		Ledger:        &session.Ledger,
		Result:        session.Result,
	}
	if err := s.driver.UpdateSession(ctx, update); err != nil {
		return nil, err
	}
	s.sessionCache.Set(ctx, session.UID, session)
	return session, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, delete *DeleteSession) error {
	if err := s.driver.DeleteSession(ctx, delete); err != nil {
		return err
	}
	s.sessionCache.Delete(ctx, delete.UID)
	s.removeSessionLock(delete.UID)
	return nil
}

// DeleteExpiredSessions enforces the retention policy: sessions older than ttl
// whose last mutation is older than grace are reclaimed. Terminal sessions are
// therefore retained at least grace after completion for one results fetch.
func (s *Store) DeleteExpiredSessions(ctx context.Context, ttl time.Duration, grace time.Duration) (int64, error) {
	now := time.Now()
	deleted, err := s.driver.DeleteExpiredSessions(ctx, now.Add(-ttl).Unix(), now.Add(-grace).Unix())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		// Dropping the whole cache is cheaper than tracking which UIDs went away.
		s.sessionCache.Clear(ctx)
	}
	return deleted, nil
}

// decodeSessionJSON restores a cached session from its JSON form.
func decodeSessionJSON(data []byte) (any, error) {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}
