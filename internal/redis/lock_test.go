package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*SlotLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), ClientOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewSlotLocker(client, 2*time.Second), mr
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := SlotKey("1", "2024-06-04", "10:00")
	assert.Equal(t, "barbershop:slot:1:2024-06-04:10:00", key)

	ran := false
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))
}

func TestWithSlotLockContended(t *testing.T) {
	locker, _ := newTestLocker(t)
	key := SlotKey("1", "2024-06-04", "10:00")

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, key, func(context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLockReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := SlotKey("2", "2024-06-05", "09:30")
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(key))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := SlotKey("3", "2024-06-06", "11:00")

	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error {
		// lock expired and someone else took it
		require.NoError(t, mr.Set(key, "someone-else"))
		return nil
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestAcquireExpires(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := SlotKey("4", "2024-06-07", "14:30")

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), key)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	mr.FastForward(3 * time.Second)
	again, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	// the stale release must not free the new holder
	require.NoError(t, release(context.Background()))
	assert.True(t, mr.Exists(key))
	require.NoError(t, again(context.Background()))
	assert.False(t, mr.Exists(key))
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), ClientOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestLocalLocker(t *testing.T) {
	called := false
	err := LocalLocker{}.WithSlotLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
