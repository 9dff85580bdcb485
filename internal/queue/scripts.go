package queue

import "github.com/redis/go-redis/v9"

// Priority rank is (10 - priority) so that lower scores pop first; the
// sequence counter breaks ties FIFO. 2^40 leaves ample room for the counter.
const luaAddJob = `
local jobKey = KEYS[1]
local wait = KEYS[2]
local delayed = KEYS[3]
local seqKey = KEYS[4]

local id = ARGV[1]
local kind = ARGV[2]
local payload = ARGV[3]
local priority = tonumber(ARGV[4])
local maxAttempts = ARGV[5]
local now = tonumber(ARGV[6])
local delay = tonumber(ARGV[7])
local timeoutMs = ARGV[8]

local existing = redis.call("HGET", jobKey, "status")
if existing then
  return { "existing", existing }
end

local seq = redis.call("INCR", seqKey)
redis.call("HSET", jobKey,
  "id", id,
  "kind", kind,
  "payload", payload,
  "priority", priority,
  "maxAttempts", maxAttempts,
  "timeoutMs", timeoutMs,
  "createdAt", now,
  "attemptsMade", 0,
  "stalledCount", 0,
  "seq", seq)

if delay > 0 then
  redis.call("HSET", jobKey, "status", "delayed")
  redis.call("ZADD", delayed, now + delay, id)
  return { "created", "delayed" }
end

redis.call("HSET", jobKey, "status", "waiting")
redis.call("ZADD", wait, (10 - priority) * 1099511627776 + seq, id)
return { "created", "waiting" }
`

// Reserve promotes due delayed jobs, then pops the best waiting job into the
// active set with a lease deadline. Returns false when nothing is runnable,
// otherwise the reserved job hash as a flat field list.
const luaReserve = `
local wait = KEYS[1]
local delayed = KEYS[2]
local active = KEYS[3]
local paused = KEYS[4]

local now = tonumber(ARGV[1])
local prefix = ARGV[2]
local lease = tonumber(ARGV[3])

local due = redis.call("ZRANGEBYSCORE", delayed, "-inf", now)
for _, id in ipairs(due) do
  local jk = prefix .. id
  local pr = tonumber(redis.call("HGET", jk, "priority") or "5")
  local seq = tonumber(redis.call("HGET", jk, "seq") or "0")
  redis.call("ZREM", delayed, id)
  redis.call("ZADD", wait, (10 - pr) * 1099511627776 + seq, id)
  redis.call("HSET", jk, "status", "waiting")
end

if redis.call("EXISTS", paused) == 1 then
  return false
end

local ids = redis.call("ZRANGE", wait, 0, 0)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call("ZREM", wait, id)

local jk = prefix .. id
redis.call("HSET", jk, "status", "active", "processedOn", now)
redis.call("HINCRBY", jk, "attemptsMade", 1)
redis.call("ZADD", active, now + lease, id)
return redis.call("HGETALL", jk)
`

const luaExtendLease = `
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  redis.call("ZADD", KEYS[1], tonumber(ARGV[2]), ARGV[1])
  return 1
end
return 0
`

// Complete and fail both guard the terminal transition with the ZREM result:
// only the caller that actually removed the job from the active set owns the
// transition, which is what makes terminal events exactly-once.
const luaComplete = `
local active = KEYS[1]
local completed = KEYS[2]
local jobKey = KEYS[3]

local id = ARGV[1]
local now = ARGV[2]
local returnvalue = ARGV[3]
local keep = tonumber(ARGV[4])
local prefix = ARGV[5]

if redis.call("ZREM", active, id) == 0 then
  return 0
end
redis.call("HSET", jobKey, "status", "completed", "finishedOn", now, "returnvalue", returnvalue)
redis.call("ZADD", completed, tonumber(now), id)

local n = redis.call("ZCARD", completed)
if keep >= 0 and n > keep then
  local old = redis.call("ZRANGE", completed, 0, n - keep - 1)
  for _, oid in ipairs(old) do
    redis.call("ZREM", completed, oid)
    redis.call("DEL", prefix .. oid)
  end
end
return 1
`

const luaFail = `
local active = KEYS[1]
local failed = KEYS[2]
local jobKey = KEYS[3]

local id = ARGV[1]
local now = ARGV[2]
local reason = ARGV[3]
local keep = tonumber(ARGV[4])
local prefix = ARGV[5]

if redis.call("ZREM", active, id) == 0 then
  return 0
end
redis.call("HSET", jobKey, "status", "failed", "finishedOn", now, "failedReason", reason)
redis.call("ZADD", failed, tonumber(now), id)

local n = redis.call("ZCARD", failed)
if keep >= 0 and n > keep then
  local old = redis.call("ZRANGE", failed, 0, n - keep - 1)
  for _, oid in ipairs(old) do
    redis.call("ZREM", failed, oid)
    redis.call("DEL", prefix .. oid)
  end
end
return 1
`

const luaRetry = `
local active = KEYS[1]
local delayed = KEYS[2]
local jobKey = KEYS[3]

local id = ARGV[1]
local now = tonumber(ARGV[2])
local delay = tonumber(ARGV[3])
local reason = ARGV[4]

if redis.call("ZREM", active, id) == 0 then
  return 0
end
redis.call("HSET", jobKey, "status", "delayed", "failedReason", reason)
redis.call("ZADD", delayed, now + delay, id)
return 1
`

// Reclaim moves expired-lease jobs back to waiting, failing those past the
// stall budget. Returns a flat {id, outcome, ...} list.
const luaReclaimStalled = `
local active = KEYS[1]
local wait = KEYS[2]
local failed = KEYS[3]

local now = tonumber(ARGV[1])
local prefix = ARGV[2]
local maxStalled = tonumber(ARGV[3])

local out = {}
local expired = redis.call("ZRANGEBYSCORE", active, "-inf", now)
for _, id in ipairs(expired) do
  redis.call("ZREM", active, id)
  local jk = prefix .. id
  local stalled = redis.call("HINCRBY", jk, "stalledCount", 1)
  if stalled > maxStalled then
    redis.call("HSET", jk, "status", "failed", "finishedOn", now, "failedReason", "stalled")
    redis.call("ZADD", failed, now, id)
    table.insert(out, id)
    table.insert(out, "failed")
  else
    local pr = tonumber(redis.call("HGET", jk, "priority") or "5")
    local seq = tonumber(redis.call("HGET", jk, "seq") or "0")
    redis.call("HSET", jk, "status", "waiting")
    redis.call("ZADD", wait, (10 - pr) * 1099511627776 + seq, id)
    table.insert(out, id)
    table.insert(out, "requeued")
  end
end
return out
`

// UpdateProgress stores the report and returns the cancel flag so the worker
// observes cancellation at progress checkpoints.
const luaUpdateProgress = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[1], "progress", ARGV[1])
if redis.call("HGET", KEYS[1], "cancelRequested") == "1" then
  return 1
end
return 0
`

const luaCancel = `
local wait = KEYS[1]
local delayed = KEYS[2]
local active = KEYS[3]
local jobKey = KEYS[4]
local id = ARGV[1]

if redis.call("EXISTS", jobKey) == 0 then
  return "not-found"
end
if redis.call("ZREM", wait, id) == 1 or redis.call("ZREM", delayed, id) == 1 then
  redis.call("DEL", jobKey)
  return "removed"
end
if redis.call("ZSCORE", active, id) then
  redis.call("HSET", jobKey, "cancelRequested", "1")
  return "cancelling"
end
return "finished"
`

const luaClean = `
local zset = KEYS[1]
local cutoff = tonumber(ARGV[1])
local keep = tonumber(ARGV[2])
local prefix = ARGV[3]
local scoreIsTime = ARGV[4]

local total = redis.call("ZCARD", zset)
local removable = total - keep
if removable <= 0 then
  return 0
end

local removed = 0
local members = redis.call("ZRANGE", zset, 0, -1, "WITHSCORES")
for i = 1, #members, 2 do
  if removed >= removable then
    break
  end
  local id = members[i]
  local ts
  if scoreIsTime == "1" then
    ts = tonumber(members[i+1])
  else
    ts = tonumber(redis.call("HGET", prefix .. id, "createdAt") or "0")
  end
  if ts <= cutoff then
    redis.call("ZREM", zset, id)
    redis.call("DEL", prefix .. id)
    removed = removed + 1
  end
end
return removed
`

var (
	addScript            = redis.NewScript(luaAddJob)
	reserveScript        = redis.NewScript(luaReserve)
	extendLeaseScript    = redis.NewScript(luaExtendLease)
	completeScript       = redis.NewScript(luaComplete)
	failScript           = redis.NewScript(luaFail)
	retryScript          = redis.NewScript(luaRetry)
	reclaimStalledScript = redis.NewScript(luaReclaimStalled)
	updateProgressScript = redis.NewScript(luaUpdateProgress)
	cancelScript         = redis.NewScript(luaCancel)
	cleanScript          = redis.NewScript(luaClean)
)
