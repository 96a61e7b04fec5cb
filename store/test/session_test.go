package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfipros/acstracker/store"
)

var stepNames = []string{"extract", "analyze", "match", "generate"}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "checkride prep", []string{"f1", "f2"}, stepNames)
	require.NoError(t, err)
	require.NotEmpty(t, session.UID)
	assert.Equal(t, store.SessionStatusPending, session.Status)
	assert.NotZero(t, session.CreatedTs)
	assert.Len(t, session.Ledger.Steps, 4)

	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, session.UID, found.UID)
	assert.Equal(t, "user-1", found.CreatorID)
	assert.Equal(t, []string{"f1", "f2"}, found.InputRefs)
	assert.Equal(t, "extract", found.Ledger.Steps[0].Name)
}

func TestCreateSessionEmptyInputRefs(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	_, err := ts.CreateSession(ctx, "user-1", "", nil, stepNames)
	assert.Error(t, err)
}

func TestGetSessionUnknown(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	uid := "does-not-exist"
	found, err := ts.GetSession(ctx, &store.FindSession{UID: &uid})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListSessionsByCreator(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	_, err := ts.CreateSession(ctx, "alice", "", []string{"a"}, stepNames)
	require.NoError(t, err)
	_, err = ts.CreateSession(ctx, "alice", "", []string{"b"}, stepNames)
	require.NoError(t, err)
	_, err = ts.CreateSession(ctx, "bob", "", []string{"c"}, stepNames)
	require.NoError(t, err)

	creator := "alice"
	list, err := ts.ListSessions(ctx, &store.FindSession{CreatorID: &creator})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, session := range list {
		assert.Equal(t, "alice", session.CreatorID)
	}
}

func TestMutateSession(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "", []string{"f1"}, stepNames)
	require.NoError(t, err)

	mutated, err := ts.MutateSession(ctx, session.UID, func(s *store.Session) error {
		ledger, err := s.Ledger.Advance("extract", "extracting")
		if err != nil {
			return err
		}
		s.Ledger = ledger
		s.Status = store.SessionStatusRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusRunning, mutated.Status)

	// Read-after-write: the persisted session reflects the mutation.
	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, store.SessionStatusRunning, found.Status)
	running, ok := found.Ledger.Running()
	require.True(t, ok)
	assert.Equal(t, "extract", running)
}

func TestMutateSessionNotFound(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	_, err := ts.MutateSession(ctx, "missing", func(s *store.Session) error { return nil })
	assert.True(t, errors.Is(err, store.ErrSessionNotFound))
}

func TestMutateSessionSerialized(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "", []string{"f1"}, stepNames)
	require.NoError(t, err)

	// Concurrent mutations of the same session must not interleave:
	// each one increments a counter persisted in the result payload.
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.MutateSession(ctx, session.UID, func(s *store.Session) error {
				if s.Result == nil {
					s.Result = &store.SessionResult{}
				}
				s.Result.TotalQuestions++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.Result)
	assert.Equal(t, workers, found.Result.TotalQuestions)
}

func TestMutateSessionFnErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "", []string{"f1"}, stepNames)
	require.NoError(t, err)

	_, err = ts.MutateSession(ctx, session.UID, func(s *store.Session) error {
		s.Status = store.SessionStatusFailed
		return errors.New("mutation rejected")
	})
	require.Error(t, err)

	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	assert.Equal(t, store.SessionStatusPending, found.Status)
}

func TestDeleteExpiredSessions(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "", []string{"f1"}, stepNames)
	require.NoError(t, err)

	// Fresh sessions survive a sweep.
	deleted, err := ts.DeleteExpiredSessions(ctx, time.Hour, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	// A zero TTL reclaims everything older than "now".
	time.Sleep(1100 * time.Millisecond)
	deleted, err = ts.DeleteExpiredSessions(ctx, time.Second, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	defer ts.Close()

	session, err := ts.CreateSession(ctx, "user-1", "", []string{"f1"}, stepNames)
	require.NoError(t, err)

	require.NoError(t, ts.DeleteSession(ctx, &store.DeleteSession{UID: session.UID}))

	found, err := ts.GetSession(ctx, &store.FindSession{UID: &session.UID})
	require.NoError(t, err)
	assert.Nil(t, found)
}
