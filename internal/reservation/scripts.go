package reservation

import "github.com/redis/go-redis/v9"

// Reserve outcome codes returned by the script.
const (
	outcomeReserved        = 0
	outcomeOutOfStock      = 1
	outcomeAlreadyReserved = 2
	outcomeCampaignClosed  = 3
)

// The whole admission decision runs server-side in one script: window check,
// per-user dedup, stock decrement, reservation bookkeeping and the event
// append either all happen or none do. The clock is always the caller's;
// the store's own time is never consulted.
//
// Dedup is pure set membership. An expired hold still deduplicates until the
// sweep decides its fate: only the sweep can consult the durable store, and a
// hold that already became an order must never admit a second reserve.
//
// KEYS: campaign hash, reservation zset, reservation-id hash, stock counter,
// event stream. ARGV: now_ms, ttl_ms, user_id, reservation_id, request_id,
// campaign_id.
const reserveScriptSrc = `
local now = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local user = ARGV[3]
local meta = redis.call("HMGET", KEYS[1], "start_ms", "end_ms", "product_id")
local start_ms = tonumber(meta[1])
local end_ms = tonumber(meta[2])
if start_ms == nil or end_ms == nil then
  return {3, ""}
end
if now < start_ms or now >= end_ms then
  return {3, ""}
end
if redis.call("ZSCORE", KEYS[2], user) then
  local existing = redis.call("HGET", KEYS[3], user) or ""
  return {2, existing}
end
local stock = tonumber(redis.call("GET", KEYS[4]) or "0")
if stock <= 0 then
  return {1, ""}
end
redis.call("DECR", KEYS[4])
redis.call("ZADD", KEYS[2], now + ttl, user)
redis.call("HSET", KEYS[3], user, ARGV[4])
redis.call("XADD", KEYS[5], "*",
  "reservation_id", ARGV[4],
  "campaign_id", ARGV[6],
  "product_id", meta[3] or "",
  "user_id", user,
  "request_id", ARGV[5],
  "reserved_at", ARGV[1])
return {0, ARGV[4]}
`

// Warmup seeds the stock counter and window hash exactly once. A second call
// is a no-op so re-running warmup never resets live stock.
//
// KEYS: campaign hash, stock counter. ARGV: total_stock, start_ms, end_ms,
// product_id.
const warmupScriptSrc = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[1],
  "start_ms", ARGV[2],
  "end_ms", ARGV[3],
  "product_id", ARGV[4],
  "total_stock", ARGV[1])
return 1
`

// Release drops an abandoned reservation record and returns its unit to the
// pool. The stored reservation id must still match so a stale sweep cannot
// release a slot that was already released and re-reserved.
//
// KEYS: reservation zset, reservation-id hash, stock counter.
// ARGV: user_id, reservation_id.
const releaseScriptSrc = `
local stored = redis.call("HGET", KEYS[2], ARGV[1])
if stored ~= ARGV[2] then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("INCR", KEYS[3])
return 1
`

// Retain pins an expired hold that already became a durable order: the
// member is re-scored out of the sweep's range but stays in the set, so the
// user keeps deduplicating for the rest of the campaign and the unit is
// never returned.
//
// KEYS: reservation zset, reservation-id hash. ARGV: user_id, reservation_id.
const retainScriptSrc = `
local stored = redis.call("HGET", KEYS[2], ARGV[1])
if stored ~= ARGV[2] then
  return 0
end
redis.call("ZADD", KEYS[1], "+inf", ARGV[1])
return 1
`

// CloseWindow pulls a warmed campaign's live end forward so reserve calls
// stop immediately on abort. A no-op when the campaign was never warmed.
//
// KEYS: campaign hash. ARGV: end_ms.
const closeWindowScriptSrc = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "end_ms", ARGV[1])
return 1
`

// CorrectStock is a compare-and-set. If the live counter moved since the
// reconciler observed it, a concurrent reserve happened and the live value
// wins; the reconciler retries on its next run.
//
// KEYS: stock counter. ARGV: observed, expected.
const correctStockScriptSrc = `
local live = redis.call("GET", KEYS[1])
if live == false or tonumber(live) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`

var (
	reserveScript      = redis.NewScript(reserveScriptSrc)
	warmupScript       = redis.NewScript(warmupScriptSrc)
	releaseScript      = redis.NewScript(releaseScriptSrc)
	retainScript       = redis.NewScript(retainScriptSrc)
	closeWindowScript  = redis.NewScript(closeWindowScriptSrc)
	correctStockScript = redis.NewScript(correctStockScriptSrc)
)
