package accrual

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type storeMock struct {
	hIncrByFloatFn func(ctx context.Context, key, field string, incr float64) error
	hSetFn         func(ctx context.Context, key string, values ...interface{}) error
	hGetAllFn      func(ctx context.Context, key string) (map[string]string, error)
}

func (m *storeMock) HIncrByFloat(ctx context.Context, key, field string, incr float64) error {
	if m.hIncrByFloatFn != nil {
		return m.hIncrByFloatFn(ctx, key, field, incr)
	}
	return nil
}

func (m *storeMock) HSet(ctx context.Context, key string, values ...interface{}) error {
	if m.hSetFn != nil {
		return m.hSetFn(ctx, key, values...)
	}
	return nil
}

func (m *storeMock) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hGetAllFn != nil {
		return m.hGetAllFn(ctx, key)
	}
	return nil, nil
}

// memStore accumulates increments like a real hash.
type memStore struct {
	hashes map[string]map[string]string
	incrs  map[string]float64
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{
		hashes: make(map[string]map[string]string),
		incrs:  make(map[string]float64),
	}
}

func (m *memStore) HIncrByFloat(ctx context.Context, key, field string, incr float64) error {
	if m.fail {
		return errors.New("connection refused")
	}
	m.incrs[key+"/"+field] += incr
	return nil
}

func (m *memStore) HSet(ctx context.Context, key string, values ...interface{}) error {
	if m.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (m *memStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.fail {
		return nil, errors.New("connection refused")
	}
	return m.hashes[key], nil
}

func newTestService(store Store) *Service {
	return &Service{
		store:    store,
		fallback: make(map[string]map[string]float64),
	}
}

func TestAccrueIncrementsAllBuckets(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	err := svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 12.5, 1)
	require.NoError(t, err)

	require.InDelta(t, 12.5, store.incrs["accrual:0xabc/total"], 1e-9)
	require.InDelta(t, 1, store.incrs["accrual:0xabc/contributions"], 1e-9)
	require.InDelta(t, 12.5, store.incrs["accrual:0xabc/platform:extension"], 1e-9)
	require.InDelta(t, 12.5, store.incrs["accrual:0xabc/role:contributor"], 1e-9)
}

func TestAccrueIsAdditive(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	require.NoError(t, svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 10, 1))
	require.NoError(t, svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 5, 1))

	require.InDelta(t, 15, store.incrs["accrual:0xabc/total"], 1e-9)
	require.InDelta(t, 2, store.incrs["accrual:0xabc/contributions"], 1e-9)
}

func TestAccrueFallsBackWhenStoreDown(t *testing.T) {
	store := newMemStore()
	store.fail = true
	svc := newTestService(store)

	// Write never fails the caller.
	require.NoError(t, svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 7, 1))

	// Reads are served from the in-process buffer while the store is down.
	rec, err := svc.GetAccrual(context.Background(), "0xabc")
	require.NoError(t, err)
	require.InDelta(t, 7, rec.TotalTokens, 1e-9)
	require.InDelta(t, 7, rec.ByPlatform["extension"], 1e-9)
	require.Equal(t, int64(1), rec.Contributions)
}

func TestFallbackFlushedOnRecovery(t *testing.T) {
	store := newMemStore()
	store.fail = true
	svc := newTestService(store)

	require.NoError(t, svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 7, 1))

	store.fail = false
	require.NoError(t, svc.Accrue(context.Background(), "0xabc", "extension", RoleContributor, 3, 1))

	// Both the buffered 7 and the fresh 3 reached the store.
	require.InDelta(t, 10, store.incrs["accrual:0xabc/total"], 1e-9)

	// Buffer is drained.
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Empty(t, svc.fallback)
}

func TestGetAccrualParsesStoredFields(t *testing.T) {
	svc := newTestService(&storeMock{
		hGetAllFn: func(ctx context.Context, key string) (map[string]string, error) {
			require.Equal(t, "accrual:0xabc", key)
			return map[string]string{
				"total":              "42.5",
				"contributions":      "3",
				"platform:extension": "40",
				"platform:web":       "2.5",
				"role:contributor":   "42.5",
				"day:2026-08-28":     "42.5",
				"last_update":        "2026-08-28T10:00:00Z",
			}, nil
		},
	})

	rec, err := svc.GetAccrual(context.Background(), "0xabc")
	require.NoError(t, err)
	require.InDelta(t, 42.5, rec.TotalTokens, 1e-9)
	require.Equal(t, int64(3), rec.Contributions)
	require.InDelta(t, 40, rec.ByPlatform["extension"], 1e-9)
	require.InDelta(t, 2.5, rec.ByPlatform["web"], 1e-9)
	require.InDelta(t, 42.5, rec.Daily["2026-08-28"], 1e-9)
	require.False(t, rec.LastUpdate.IsZero())
}

func TestGetAccrualUnavailableWithoutFallback(t *testing.T) {
	svc := newTestService(&storeMock{
		hGetAllFn: func(ctx context.Context, key string) (map[string]string, error) {
			return nil, errors.New("connection refused")
		},
	})

	_, err := svc.GetAccrual(context.Background(), "0xabc")
	require.Error(t, err)
}
