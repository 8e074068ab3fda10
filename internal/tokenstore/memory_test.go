package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/dataspace-exchange/internal/poll"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(ttl time.Duration) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(ttl)
	s.nowFunc = clock.Now
	return s, clock
}

func TestMemoryStore_PutThenGet(t *testing.T) {
	s, _ := newTestStore(5 * time.Minute)
	ctx := context.Background()

	tok := PendingToken{TransferID: "t1", HeaderName: "Authorization", Token: "abc", EndpointURL: "http://dp/public"}
	require.NoError(t, s.Put(ctx, tok))

	got, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", got.Token)
	assert.Equal(t, "http://dp/public", got.EndpointURL)
	assert.False(t, got.InsertedAt.IsZero())
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	s, clock := newTestStore(5 * time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t1", Token: "abc"}))

	clock.Advance(4*time.Minute + 59*time.Second)
	_, ok, _ := s.Get(ctx, "t1")
	assert.True(t, ok, "entry must survive until the ttl elapses")

	clock.Advance(time.Second)
	_, ok, _ = s.Get(ctx, "t1")
	assert.False(t, ok, "entry must be absent once the ttl elapsed")

	// the next write sweeps the expired entry out of memory
	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t2", Token: "def"}))
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_OverwriteKeepsNewDeadline(t *testing.T) {
	s, clock := newTestStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t1", Token: "old"}))
	clock.Advance(50 * time.Second)
	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t1", Token: "new"}))
	clock.Advance(20 * time.Second)

	// the first heap item is due now but belongs to the overwritten entry
	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t3", Token: "x"}))
	got, ok, _ := s.Get(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, "new", got.Token)
}

func TestMemoryStore_UnknownKeyDoesNotBlock(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	_, ok, err := s.Get(context.Background(), "never-arrives")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_JWTExpiryCapsTTL(t *testing.T) {
	s, clock := newTestStore(5 * time.Minute)
	ctx := context.Background()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clock.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, PendingToken{TransferID: "t1", Token: signed}))
	clock.Advance(61 * time.Second)
	_, ok, _ := s.Get(ctx, "t1")
	assert.False(t, ok, "token past its exp claim must not be handed out")
}

func TestAwaitAndConsume_DeliveredLate(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	ctx := context.Background()

	attempts := 0
	p := poll.Policy{
		Attempts: 10,
		Sleep: func(ctx context.Context, d time.Duration) error {
			attempts++
			if attempts == 3 {
				return s.Put(ctx, PendingToken{TransferID: "t9", HeaderName: "Authorization", Token: "late"})
			}
			return nil
		},
	}

	tok, err := AwaitAndConsume(ctx, s, "t9", p)
	require.NoError(t, err)
	assert.Equal(t, "late", tok.Token)

	_, ok, _ := s.Get(ctx, "t9")
	assert.False(t, ok, "consumed token must be removed")
}

func TestAwaitAndConsume_NotReceived(t *testing.T) {
	s, _ := newTestStore(time.Minute)
	_, err := AwaitAndConsume(context.Background(), s, "missing", poll.Policy{Attempts: 3, Sleep: poll.NoSleep})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReceived))
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = s.Put(ctx, PendingToken{TransferID: id, Token: "x"})
			_, _, _ = s.Get(ctx, id)
			_ = s.Delete(ctx, id)
		}(i)
	}
	wg.Wait()
}
