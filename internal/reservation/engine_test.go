package reservation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmoncada/flashsale-backend/pkg/db/models"
	"github.com/rmoncada/flashsale-backend/pkg/errors"
)

// fakeScriptStore emulates the script contracts against in-memory structures
// under one lock, preserving the atomicity the scripts guarantee. It
// dispatches on the script source, so it exercises the engine's keying,
// argument order and reply decoding.
type fakeScriptStore struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	zsets   map[string]map[string]int64
	streams map[string][]map[string]string
}

func newFakeScriptStore() *fakeScriptStore {
	return &fakeScriptStore{
		strings: map[string]string{},
		hashes:  map[string]map[string]string{},
		zsets:   map[string]map[string]int64{},
		streams: map[string][]map[string]string{},
	}
}

func (f *fakeScriptStore) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch script {
	case reserveScriptSrc:
		return redis.NewCmdResult(f.reserve(keys, args), nil)
	case warmupScriptSrc:
		return redis.NewCmdResult(f.warmup(keys, args), nil)
	case releaseScriptSrc:
		return redis.NewCmdResult(f.release(keys, args), nil)
	case retainScriptSrc:
		return redis.NewCmdResult(f.retain(keys, args), nil)
	case closeWindowScriptSrc:
		return redis.NewCmdResult(f.closeWindow(keys, args), nil)
	case correctStockScriptSrc:
		return redis.NewCmdResult(f.correctStock(keys, args), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unknown script"))
}

func (f *fakeScriptStore) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

// scriptNotCached mimics the server-side NOSCRIPT reply. It must satisfy the
// redis.Error interface or Script.Run will not fall back to Eval.
type scriptNotCached string

func (e scriptNotCached) Error() string { return string(e) }
func (scriptNotCached) RedisError()     {}

func (f *fakeScriptStore) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmdResult(nil, scriptNotCached("NOSCRIPT No matching script"))
}

func (f *fakeScriptStore) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeScriptStore) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{false}, nil)
}

func (f *fakeScriptStore) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", stdErrors.New("not supported"))
}

func (f *fakeScriptStore) reserve(keys []string, args []any) any {
	campaignKey, zsetKey, idKey, stockKey, streamKey := keys[0], keys[1], keys[2], keys[3], keys[4]
	now := asInt64(args[0])
	ttl := asInt64(args[1])
	user := args[2].(string)
	resvID := args[3].(string)

	meta, ok := f.hashes[campaignKey]
	if !ok {
		return []any{int64(3), ""}
	}
	start, end := asInt64(meta["start_ms"]), asInt64(meta["end_ms"])
	if now < start || now >= end {
		return []any{int64(3), ""}
	}
	if _, held := f.zsets[zsetKey][user]; held {
		return []any{int64(2), f.hashes[idKey][user]}
	}
	stock := asInt64(f.strings[stockKey])
	if stock <= 0 {
		return []any{int64(1), ""}
	}
	f.strings[stockKey] = fmt.Sprint(stock - 1)
	if f.zsets[zsetKey] == nil {
		f.zsets[zsetKey] = map[string]int64{}
	}
	f.zsets[zsetKey][user] = now + ttl
	if f.hashes[idKey] == nil {
		f.hashes[idKey] = map[string]string{}
	}
	f.hashes[idKey][user] = resvID
	f.streams[streamKey] = append(f.streams[streamKey], map[string]string{
		"reservation_id": resvID,
		"campaign_id":    args[5].(string),
		"product_id":     meta["product_id"],
		"user_id":        user,
		"request_id":     args[4].(string),
		"reserved_at":    fmt.Sprint(now),
	})
	return []any{int64(0), resvID}
}

func (f *fakeScriptStore) warmup(keys []string, args []any) any {
	campaignKey, stockKey := keys[0], keys[1]
	if _, exists := f.hashes[campaignKey]; exists {
		return int64(0)
	}
	f.strings[stockKey] = fmt.Sprint(asInt64(args[0]))
	f.hashes[campaignKey] = map[string]string{
		"start_ms":    fmt.Sprint(asInt64(args[1])),
		"end_ms":      fmt.Sprint(asInt64(args[2])),
		"product_id":  args[3].(string),
		"total_stock": fmt.Sprint(asInt64(args[0])),
	}
	return int64(1)
}

func (f *fakeScriptStore) release(keys []string, args []any) any {
	zsetKey, idKey, stockKey := keys[0], keys[1], keys[2]
	user := args[0].(string)
	if f.hashes[idKey][user] != args[1].(string) {
		return int64(0)
	}
	delete(f.zsets[zsetKey], user)
	delete(f.hashes[idKey], user)
	f.strings[stockKey] = fmt.Sprint(asInt64(f.strings[stockKey]) + 1)
	return int64(1)
}

func (f *fakeScriptStore) retain(keys []string, args []any) any {
	zsetKey, idKey := keys[0], keys[1]
	user := args[0].(string)
	if f.hashes[idKey][user] != args[1].(string) {
		return int64(0)
	}
	f.zsets[zsetKey][user] = int64(1) << 62
	return int64(1)
}

func (f *fakeScriptStore) closeWindow(keys []string, args []any) any {
	meta, exists := f.hashes[keys[0]]
	if !exists {
		return int64(0)
	}
	meta["end_ms"] = fmt.Sprint(asInt64(args[0]))
	return int64(1)
}

func (f *fakeScriptStore) correctStock(keys []string, args []any) any {
	stockKey := keys[0]
	live, exists := f.strings[stockKey]
	if !exists || asInt64(live) != asInt64(args[0]) {
		return int64(0)
	}
	f.strings[stockKey] = fmt.Sprint(asInt64(args[1]))
	return int64(1)
}

func (f *fakeScriptStore) stock(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return asInt64(f.strings[key])
}

func (f *fakeScriptStore) events(key string) []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[key]
}

func asInt64(v any) int64 {
	switch typed := v.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case string:
		var parsed int64
		fmt.Sscan(typed, &parsed)
		return parsed
	}
	return 0
}

func TestEvalShaReplyTriggersEvalFallback(t *testing.T) {
	err := newFakeScriptStore().EvalSha(context.Background(), "deadbeef", nil).Err()
	require.True(t, redis.HasErrorPrefix(err, "NOSCRIPT"))
}

type testKeys struct{}

func (testKeys) CampaignKey(id string) string       { return "fs:campaign:" + id }
func (testKeys) StockKey(id string) string          { return "fs:stock:" + id }
func (testKeys) ReservationSetKey(id string) string { return "fs:resv:" + id }
func (testKeys) ReservationIDKey(id string) string  { return "fs:resv_id:" + id }

func testCampaign(t *testing.T, stock int64) models.Campaign {
	t.Helper()
	return models.Campaign{
		ID:               uuid.New(),
		ProductID:        uuid.New(),
		TotalStock:       stock,
		StartTime:        time.UnixMilli(1_000),
		EndTime:          time.UnixMilli(100_000),
		PerUserLimitSecs: 60,
	}
}

func newTestEngine(t *testing.T, store *fakeScriptStore) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineParams{
		Store:       store,
		Keys:        testKeys{},
		EventStream: "fs:events",
		TTL:         10 * time.Second,
	})
	require.NoError(t, err)
	engine.now = func() time.Time { return time.UnixMilli(50_000) }
	return engine
}

func TestReserveConcurrentNeverOversells(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 3)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	const attempts = 10
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Reserve(context.Background(), campaign.ID.String(), fmt.Sprintf("user-%d", n), uuid.NewString())
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var reserved, rejected int
	for err := range results {
		if err == nil {
			reserved++
			continue
		}
		require.Equal(t, errors.CodeOutOfStock, errors.As(err).Code())
		rejected++
	}
	assert.Equal(t, 3, reserved)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, int64(0), store.stock("fs:stock:"+campaign.ID.String()))
	assert.Len(t, store.events("fs:events"), 3)
}

func TestReserveSecondCallSameUserIsRejected(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	first, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)
	require.NotEmpty(t, first.ReservationID)

	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.Error(t, err)
	typed := errors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.CodeAlreadyReserved, typed.Code())
	assert.Equal(t, map[string]string{"reservationId": first.ReservationID}, typed.Details())

	// Only the first attempt consumed stock or emitted an event.
	assert.Equal(t, int64(4), store.stock("fs:stock:"+campaign.ID.String()))
	assert.Len(t, store.events("fs:events"), 1)
}

func TestReserveAfterExpiryStillDedupesUntilSwept(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 3)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	first, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	// Past the hold deadline but still inside the campaign window. Until the
	// sweep rules on the hold, the user must not get a second unit.
	engine.now = func() time.Time { return time.UnixMilli(65_000) }
	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.Error(t, err)
	typed := errors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.CodeAlreadyReserved, typed.Code())
	assert.Equal(t, map[string]string{"reservationId": first.ReservationID}, typed.Details())
	assert.Equal(t, int64(2), store.stock("fs:stock:"+campaign.ID.String()))
	assert.Len(t, store.events("fs:events"), 1)
}

func TestReserveAfterReleaseIsAllowedAgain(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	first, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	// The sweep found no durable order and released the abandoned hold.
	engine.now = func() time.Time { return time.UnixMilli(70_000) }
	released, err := engine.Release(context.Background(), campaign.ID.String(), "u1", first.ReservationID)
	require.NoError(t, err)
	require.True(t, released)

	second, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)
	assert.NotEqual(t, first.ReservationID, second.ReservationID)
}

func TestReserveClosedCampaign(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	engine.now = func() time.Time { return time.UnixMilli(200_000) }
	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, errors.CodeCampaignClosed, errors.As(err).Code())
}

func TestReserveUnknownCampaignIsClosed(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)

	_, err := engine.Reserve(context.Background(), uuid.NewString(), "u1", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, errors.CodeCampaignClosed, errors.As(err).Code())
}

func TestWarmupIsIdempotent(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)

	seeded, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)
	assert.True(t, seeded)

	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	// Re-warming must not reset live stock.
	seeded, err = engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Equal(t, int64(4), store.stock("fs:stock:"+campaign.ID.String()))
}

func TestReleaseReturnsStockOnce(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	resv, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, int64(4), store.stock("fs:stock:"+campaign.ID.String()))

	released, err := engine.Release(context.Background(), campaign.ID.String(), "u1", resv.ReservationID)
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, int64(5), store.stock("fs:stock:"+campaign.ID.String()))

	// Second release with the same id finds nothing to do.
	released, err = engine.Release(context.Background(), campaign.ID.String(), "u1", resv.ReservationID)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, int64(5), store.stock("fs:stock:"+campaign.ID.String()))
}

func TestReleaseSkipsWhenReservationWasReplaced(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	first, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)
	_, err = engine.Release(context.Background(), campaign.ID.String(), "u1", first.ReservationID)
	require.NoError(t, err)
	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	// A sweep still holding the first id must not touch the new hold.
	released, err := engine.Release(context.Background(), campaign.ID.String(), "u1", first.ReservationID)
	require.NoError(t, err)
	assert.False(t, released)
	assert.Equal(t, int64(4), store.stock("fs:stock:"+campaign.ID.String()))
}

func TestRetainKeepsMaterializedHoldDeduplicating(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 3)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	resv, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	// The sweep found a durable order for the expired hold and retained it.
	engine.now = func() time.Time { return time.UnixMilli(65_000) }
	retained, err := engine.Retain(context.Background(), campaign.ID.String(), "u1", resv.ReservationID)
	require.NoError(t, err)
	require.True(t, retained)

	// No second unit, no restock, no second event for this user.
	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.Error(t, err)
	typed := errors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, errors.CodeAlreadyReserved, typed.Code())
	assert.Equal(t, map[string]string{"reservationId": resv.ReservationID}, typed.Details())
	assert.Equal(t, int64(2), store.stock("fs:stock:"+campaign.ID.String()))
	assert.Len(t, store.events("fs:events"), 1)
}

func TestRetainSkipsWhenReservationWasReplaced(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	first, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)
	_, err = engine.Release(context.Background(), campaign.ID.String(), "u1", first.ReservationID)
	require.NoError(t, err)
	second, err := engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.NoError(t, err)

	retained, err := engine.Retain(context.Background(), campaign.ID.String(), "u1", first.ReservationID)
	require.NoError(t, err)
	assert.False(t, retained)
	require.NotEqual(t, first.ReservationID, second.ReservationID)
}

func TestCloseWindowCutsOffReserves(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)

	closed, err := engine.CloseWindow(context.Background(), campaign.ID.String(), time.UnixMilli(40_000))
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = engine.Reserve(context.Background(), campaign.ID.String(), "u1", uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, errors.CodeCampaignClosed, errors.As(err).Code())

	closed, err = engine.CloseWindow(context.Background(), uuid.NewString(), time.UnixMilli(40_000))
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestCorrectStockOnlyAppliesAgainstObservedValue(t *testing.T) {
	store := newFakeScriptStore()
	engine := newTestEngine(t, store)
	campaign := testCampaign(t, 5)
	_, err := engine.Warmup(context.Background(), campaign)
	require.NoError(t, err)
	stockKey := "fs:stock:" + campaign.ID.String()

	applied, err := engine.CorrectStock(context.Background(), campaign.ID.String(), 5, 3)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(3), store.stock(stockKey))

	// Observed value is stale now, so the correction is skipped.
	applied, err = engine.CorrectStock(context.Background(), campaign.ID.String(), 5, 1)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(3), store.stock(stockKey))
}
