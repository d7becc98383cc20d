package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.UnixMilli(1_700_000_000_000)}
}

var errDown = errors.New("connection refused")

// brokenStore fails every call.
type brokenStore struct {
	store.SessionStore
}

func (brokenStore) GetSession(context.Context, string) (*domain.Session, error) { return nil, errDown }
func (brokenStore) CreateSession(context.Context, *domain.Session) (bool, error) {
	return false, errDown
}
func (brokenStore) TouchSession(context.Context, string, time.Time) error { return errDown }
func (brokenStore) UpdateConnection(context.Context, string, string, string) error {
	return errDown
}
func (brokenStore) SetTyping(context.Context, string, bool) error { return errDown }
func (brokenStore) DeleteSession(context.Context, string) error  { return errDown }
func (brokenStore) ListSessions(context.Context, string) ([]*domain.Session, error) {
	return nil, errDown
}
func (brokenStore) DeleteExpiredSessions(context.Context, time.Time) ([]string, error) {
	return nil, errDown
}

func claimsFor(user string) domain.AuthClaims {
	return domain.AuthClaims{UserID: user, Token: "tok-" + user}
}

func TestGetOrCreateNewAndResume(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	reg := NewRegistry(store.NewMemoryStore(), time.Hour, WithClock(c.Now))

	s, resumed, err := reg.GetOrCreate(ctx, "", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.True(t, ValidID(s.SessionID))
	assert.Equal(t, "tok-u1", s.Claims.Token)

	c.Advance(time.Minute)
	again, resumed, err := reg.GetOrCreate(ctx, s.SessionID, "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, s.SessionID, again.SessionID)
	assert.True(t, again.LastActiveAt.Equal(c.Now()))
}

func TestGetOrCreateInvalidIDGetsFreshOne(t *testing.T) {
	reg := NewRegistry(store.NewMemoryStore(), time.Hour)

	s, resumed, err := reg.GetOrCreate(context.Background(), "bad id with spaces", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, "bad id with spaces", s.SessionID)
}

func TestGetOrCreateUnknownIDIsKept(t *testing.T) {
	reg := NewRegistry(store.NewMemoryStore(), time.Hour)

	s, resumed, err := reg.GetOrCreate(context.Background(), "client-chosen-1", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, "client-chosen-1", s.SessionID)
}

func TestGetOrCreateForeignSession(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(store.NewMemoryStore(), time.Hour)

	s, _, err := reg.GetOrCreate(ctx, "shared", "owner", claimsFor("owner"))
	require.NoError(t, err)

	_, _, err = reg.GetOrCreate(ctx, s.SessionID, "intruder", claimsFor("intruder"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = reg.GetOwned(ctx, s.SessionID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateConcurrentSingleRecord(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	reg := NewRegistry(mem, time.Hour)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := reg.GetOrCreate(ctx, "same-id", "u1", claimsFor("u1"))
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			ids[i] = s.SessionID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, "same-id", id)
	}
	list, err := mem.ListSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	reg := NewRegistry(store.NewMemoryStore(), time.Hour, WithClock(c.Now))

	s, _, err := reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)

	c.Advance(2 * time.Hour)
	_, err = reg.Get(ctx, s.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, resumed, err := reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.True(t, fresh.CreatedAt.Equal(c.Now()))
}

func TestConnectionBinding(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(store.NewMemoryStore(), time.Hour)
	s, _, err := reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)

	require.NoError(t, reg.BindConnection(ctx, s.SessionID, "conn-a"))
	require.NoError(t, reg.BindConnection(ctx, s.SessionID, "conn-b"))

	// A stale connection releasing must not clear the newer binding.
	require.NoError(t, reg.ReleaseConnection(ctx, s.SessionID, "conn-a"))
	got, err := reg.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "conn-b", got.ConnectionID)

	require.NoError(t, reg.ReleaseConnection(ctx, s.SessionID, "conn-b"))
	got, err = reg.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Empty(t, got.ConnectionID)

	assert.ErrorIs(t, reg.BindConnection(ctx, "missing", "conn-c"), ErrNotFound)
}

func TestFallbackWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	fallback := store.NewMemoryStore()
	reg := NewRegistry(brokenStore{}, time.Hour, WithFallback(fallback))

	s, resumed, err := reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.True(t, reg.Degraded())

	require.NoError(t, reg.SetTyping(ctx, s.SessionID, true))
	got, err := reg.Get(ctx, s.SessionID)
	require.NoError(t, err)
	assert.True(t, got.Typing)

	list, err := reg.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, resumed, err = reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)
	assert.True(t, resumed)
}

func TestPrimaryFailureWithoutFallback(t *testing.T) {
	reg := NewRegistry(brokenStore{}, time.Hour)
	_, _, err := reg.GetOrCreate(context.Background(), "s1", "u1", claimsFor("u1"))
	assert.ErrorIs(t, err, errDown)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	log := store.NewMemoryStore()
	reg := NewRegistry(store.NewMemoryStore(), time.Hour, WithClock(c.Now))

	_, _, err := reg.GetOrCreate(ctx, "old", "u1", claimsFor("u1"))
	require.NoError(t, err)
	require.NoError(t, log.AppendMessages(ctx, "old", "u1",
		&domain.Message{Role: domain.RoleUser, Text: "ancient", Timestamp: c.Now()}))

	c.Advance(90 * time.Minute)
	_, _, err = reg.GetOrCreate(ctx, "new", "u1", claimsFor("u1"))
	require.NoError(t, err)

	var expired []string
	sweep(ctx, reg, log, time.Hour, func(id string) { expired = append(expired, id) })

	assert.Equal(t, []string{"old"}, expired)
	_, err = reg.Get(ctx, "new")
	assert.NoError(t, err)

	msgs, err := log.RecentMessages(ctx, "old", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStartSweeperStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newClock()
	reg := NewRegistry(store.NewMemoryStore(), time.Minute, WithClock(c.Now))
	_, _, err := reg.GetOrCreate(ctx, "s1", "u1", claimsFor("u1"))
	require.NoError(t, err)
	c.Advance(time.Hour)

	done := make(chan string, 1)
	StartSweeper(ctx, reg, nil, SweeperConfig{Interval: 10 * time.Millisecond}, func(id string) {
		select {
		case done <- id:
		default:
		}
	})

	select {
	case id := <-done:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}
	cancel()
}
