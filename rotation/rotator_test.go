package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webscope-ai/domain-analyzer/model"
)

func testProxies(n int) []model.ProxyEntry {
	proxies := make([]model.ProxyEntry, n)
	for i := range proxies {
		proxies[i] = model.ProxyEntry{
			Protocol: "http",
			Host:     "gw.example.com",
			Port:     7000 + i,
			Username: "user-sessid-0000",
			Password: "secret",
		}
	}
	return proxies
}

func testKeys(n int) []*model.APIKeyEntry {
	keys := make([]*model.APIKeyEntry, n)
	for i := range keys {
		keys[i] = &model.APIKeyEntry{ID: string(rune('a' + i)), Key: "key-material-000" + string(rune('0'+i))}
	}
	return keys
}

func TestNewRotatorRejectsEmptyPools(t *testing.T) {
	_, err := NewRotator(nil, testKeys(1))
	assert.Error(t, err)

	_, err = NewRotator(testProxies(1), nil)
	assert.Error(t, err)
}

func TestNewRotatorRejectsInvalidEntries(t *testing.T) {
	bad := []model.ProxyEntry{{Protocol: "ftp", Host: "x", Port: 1}}
	_, err := NewRotator(bad, testKeys(1))
	assert.Error(t, err)

	_, err = NewRotator(testProxies(1), []*model.APIKeyEntry{{ID: "a"}})
	assert.Error(t, err)
}

func TestAcquireRoundRobin(t *testing.T) {
	r, err := NewRotator(testProxies(2), testKeys(3))
	require.NoError(t, err)

	var seen []string
	for i := 0; i < 6; i++ {
		_, key, err := r.Acquire(context.Background())
		require.NoError(t, err)
		seen = append(seen, key.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}

func TestAcquireSkipsFrozenKeys(t *testing.T) {
	keys := testKeys(3)
	r, err := NewRotator(testProxies(1), keys)
	require.NoError(t, err)

	r.FreezeKey(keys[0], time.Hour)

	for i := 0; i < 4; i++ {
		_, key, err := r.Acquire(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, "a", key.ID)
	}
}

func TestAcquireBlocksUntilThaw(t *testing.T) {
	keys := testKeys(1)
	r, err := NewRotator(testProxies(1), keys)
	require.NoError(t, err)

	r.FreezeKey(keys[0], 50*time.Millisecond)

	start := time.Now()
	_, key, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keys[0].ID, key.ID)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAcquireCancelledWhileAllFrozen(t *testing.T) {
	keys := testKeys(1)
	r, err := NewRotator(testProxies(1), keys)
	require.NoError(t, err)

	r.FreezeKey(keys[0], time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, _, err = r.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoFrozenKeyIssuedConcurrently(t *testing.T) {
	keys := testKeys(4)
	r, err := NewRotator(testProxies(2), keys)
	require.NoError(t, err)

	r.FreezeKey(keys[1], time.Hour)
	r.FreezeKey(keys[3], time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	issued := make(map[string]int)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, key, err := r.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			issued[key.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, issued["b"])
	assert.Zero(t, issued["d"])
	assert.Equal(t, 32, issued["a"]+issued["c"])
}

func TestHasUnfrozenKeyKeepsRoundRobinOrder(t *testing.T) {
	keys := testKeys(3)
	r, err := NewRotator(testProxies(1), keys)
	require.NoError(t, err)

	_, first, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)

	// Availability checks between acquires must not advance the cursor.
	for i := 0; i < 5; i++ {
		require.True(t, r.HasUnfrozenKey())
	}

	_, second, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)
}

func TestHasUnfrozenKey(t *testing.T) {
	keys := testKeys(2)
	r, err := NewRotator(testProxies(1), keys)
	require.NoError(t, err)

	assert.True(t, r.HasUnfrozenKey())

	r.FreezeKey(keys[0], time.Hour)
	assert.True(t, r.HasUnfrozenKey())

	r.FreezeKey(keys[1], time.Hour)
	assert.False(t, r.HasUnfrozenKey())
}

func TestRotateSessionUpdatesPool(t *testing.T) {
	proxies := testProxies(1)
	r, err := NewRotator(proxies, testKeys(1))
	require.NoError(t, err)

	original, _, err := r.Acquire(context.Background())
	require.NoError(t, err)

	rotated := r.RotateSession(original)
	assert.Equal(t, original.Host, rotated.Host)
	assert.True(t, rotated.HasSession())

	// The pool slot was updated, so the next acquire hands out the rotated
	// session.
	next, _, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rotated.Username, next.Username)
}

func TestReleaseRotatesSessionOnProxyFailure(t *testing.T) {
	proxies := testProxies(1)
	r, err := NewRotator(proxies, testKeys(1))
	require.NoError(t, err)

	proxy, key, err := r.Acquire(context.Background())
	require.NoError(t, err)

	outcome := model.AttemptOutcome{
		Err:          errors.New("socks connect failed"),
		Kind:         model.KindProxyError,
		ProxyRelated: true,
	}
	r.Release(proxy, key, outcome)

	// Releasing a success leaves the session alone.
	next, _, err := r.Acquire(context.Background())
	require.NoError(t, err)
	r.Release(next, key, model.AttemptOutcome{Payload: []byte("ok")})

	after, _, err := r.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, next.Username, after.Username)
}

func TestModelCycle(t *testing.T) {
	c := NewModelCycle([]string{"m1", "m2"})
	assert.Equal(t, "m1", c.Next())
	assert.Equal(t, "m2", c.Next())
	assert.Equal(t, "m1", c.Next())

	empty := NewModelCycle(nil)
	assert.Equal(t, "", empty.Next())
}
