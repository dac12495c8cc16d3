package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatproxy/internal/conversation"
	"github.com/comigor/chatproxy/internal/history"
)

type fakeLoader struct {
	msgs  map[string][]history.Message
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeLoader) List(ctx context.Context, id string) ([]history.Message, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs[id], nil
}

func TestResolve_MintsIdentifier(t *testing.T) {
	loader := &fakeLoader{}
	r := NewRegistry(loader)

	s, minted := r.Resolve(context.Background(), "")
	require.True(t, minted)
	require.NotEmpty(t, s.ID)
	require.Zero(t, loader.calls.Load(), "minted sessions have nothing to hydrate")

	again, minted := r.Resolve(context.Background(), s.ID)
	require.False(t, minted)
	require.Same(t, s, again)
}

func TestResolve_HydratesInWriteOrder(t *testing.T) {
	loader := &fakeLoader{msgs: map[string][]history.Message{
		"abc": {
			{ID: 1, Role: conversation.RoleUser, Content: "q1"},
			{ID: 2, Role: conversation.RoleAssistant, Content: "a1"},
			{ID: 3, Role: conversation.Role("system"), Content: "ignored"},
			{ID: 4, Role: conversation.RoleUser, Content: "q2"},
		},
	}}
	r := NewRegistry(loader)

	s, minted := r.Resolve(context.Background(), "abc")
	require.False(t, minted)

	entries := s.Snapshot()
	require.Len(t, entries, 3)
	require.Equal(t, conversation.NewEntry(conversation.RoleUser, "q1"), entries[0])
	require.Equal(t, conversation.NewEntry(conversation.RoleAssistant, "a1"), entries[1])
	require.Equal(t, conversation.BlockOutputText, entries[1].Content[0].Type)
	require.Equal(t, "q2", entries[2].Text())

	// known sessions are not hydrated twice
	r.Resolve(context.Background(), "abc")
	require.Equal(t, int32(1), loader.calls.Load())
}

func TestResolve_HydrationFailureLeavesEmpty(t *testing.T) {
	r := NewRegistry(&fakeLoader{err: errors.New("disk on fire")})

	s, _ := r.Resolve(context.Background(), "abc")
	require.Empty(t, s.Snapshot())
	_, ok := r.Lookup("abc")
	require.True(t, ok)
}

func TestResolve_CanceledCallerStillHydrates(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "chat.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.Append("s1", conversation.RoleUser, "q1")
	store.Append("s1", conversation.RoleAssistant, "a1")

	r := NewRegistry(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := r.Resolve(ctx, "s1")
	require.Len(t, s.Snapshot(), 2)

	again, _ := r.Resolve(context.Background(), "s1")
	require.Same(t, s, again)
	require.Equal(t, "a1", again.Snapshot()[1].Text())
}

func TestResolve_ConcurrentSameIdentifier(t *testing.T) {
	loader := &fakeLoader{
		delay: 20 * time.Millisecond,
		msgs: map[string][]history.Message{
			"abc": {{Role: conversation.RoleUser, Content: "q1"}},
		},
	}
	r := NewRegistry(loader)

	const n = 16
	got := make([]*Session, n)
	lens := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _ := r.Resolve(context.Background(), "abc")
			got[i] = s
			lens[i] = len(s.Snapshot())
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, got[0], got[i])
	}
	for _, l := range lens {
		require.Equal(t, 1, l, "every caller sees the hydrated conversation")
	}
	require.Equal(t, int32(1), loader.calls.Load())
}

func TestLookup_DoesNotCreate(t *testing.T) {
	loader := &fakeLoader{}
	r := NewRegistry(loader)

	_, ok := r.Lookup("abc")
	require.False(t, ok)
	_, ok = r.Lookup("")
	require.False(t, ok)
	require.Zero(t, r.Len())
	require.Zero(t, loader.calls.Load())
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil)
	s, _ := r.Resolve(context.Background(), "abc")
	s.Lock()
	s.Conversation().Append(conversation.NewEntry(conversation.RoleUser, "hi"))
	s.Unlock()

	require.True(t, r.Remove("abc"))
	require.False(t, r.Remove("abc"))
	_, ok := r.Lookup("abc")
	require.False(t, ok)

	fresh, _ := r.Resolve(context.Background(), "abc")
	require.NotSame(t, s, fresh)
	require.Empty(t, fresh.Snapshot())
}

func TestSweep_RemovesIdleOnly(t *testing.T) {
	r := NewRegistry(nil)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	r.Resolve(context.Background(), "old")
	busy, _ := r.Resolve(context.Background(), "busy")

	clock = clock.Add(2 * time.Hour)
	r.Resolve(context.Background(), "fresh")

	busy.Lock()
	require.Equal(t, 1, r.Sweep(time.Hour))
	busy.Unlock()

	_, ok := r.Lookup("old")
	require.False(t, ok)
	_, ok = r.Lookup("busy")
	require.True(t, ok, "sessions with a turn in flight survive")
	_, ok = r.Lookup("fresh")
	require.True(t, ok)

	require.Equal(t, 1, r.Sweep(time.Hour))
	require.Zero(t, r.Sweep(0))
	require.Equal(t, 1, r.Len())
}

func TestRecentPrompts(t *testing.T) {
	r := NewRegistry(nil)
	s, _ := r.Resolve(context.Background(), "abc")
	s.Lock()
	for i := 0; i < 7; i++ {
		s.Conversation().Append(conversation.NewEntry(conversation.RoleUser, fmt.Sprint(i)))
	}
	s.Unlock()

	got := s.RecentPrompts(5)
	require.Len(t, got, 5)
	require.Equal(t, 2, got[0].Index)
	require.Equal(t, "6", got[4].Text)
}

func TestStartJanitor(t *testing.T) {
	r := NewRegistry(nil)

	j, err := StartJanitor(r, "@every 1h", 0)
	require.NoError(t, err)
	require.Nil(t, j)
	j.Stop()

	_, err = StartJanitor(r, "not a schedule", time.Minute)
	require.Error(t, err)

	j, err = StartJanitor(r, "@every 1h", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, j)
	j.Stop()
}
