package redisstore

import "github.com/redis/go-redis/v9"

const (
	statusNotFound  int64 = 0
	statusRevoked   int64 = 1
	statusConsumed  int64 = 2
	statusConflict  int64 = 3
	statusOK        int64 = 4
	statusDuplicate int64 = 5
)

// KEYS: family hash, user set, family activity zset
// ARGV: family id, user, device, role, created millis
const createFamilyScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 5
end
redis.call("HSET", KEYS[1],
  "user", ARGV[2], "device", ARGV[3], "role", ARGV[4], "created", ARGV[5],
  "cur", "0", "max", "0", "revoked", "0", "revoked_at", "0")
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
return 4
`

var createFamilyLua = redis.NewScript(createFamilyScript)

// KEYS: token hash, family token set, token activity zset, family activity zset
// ARGV: token id, user, device, family, generation, created millis, fingerprint
const putRecordScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 5
end
redis.call("HSET", KEYS[1],
  "user", ARGV[2], "device", ARGV[3], "family", ARGV[4], "gen", ARGV[5],
  "created", ARGV[6], "last_used", "0", "consumed", "0", "rotated_to", "",
  "fp", ARGV[7], "revoked", "0")
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[6], ARGV[1])
local prev = redis.call("ZSCORE", KEYS[4], ARGV[4])
if prev and tonumber(prev) < tonumber(ARGV[6]) then
  redis.call("ZADD", KEYS[4], ARGV[6], ARGV[4])
end
return 4
`

var putRecordLua = redis.NewScript(putRecordScript)

// KEYS: family hash
const advanceScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return {1}
end
local cur = redis.call("HINCRBY", KEYS[1], "cur", 1)
local max = tonumber(redis.call("HGET", KEYS[1], "max") or "0")
if cur > max then
  redis.call("HSET", KEYS[1], "max", tostring(cur))
end
return {4, cur}
`

var advanceLua = redis.NewScript(advanceScript)

// KEYS: family hash, family token set
// ARGV: token key prefix, revoked-at millis
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") ~= "1" then
  redis.call("HSET", KEYS[1], "revoked", "1", "revoked_at", ARGV[2])
end
local ids = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(ids) do
  local k = ARGV[1] .. id
  if redis.call("EXISTS", k) == 1 then
    redis.call("HSET", k, "revoked", "1")
  end
end
return 4
`

var revokeLua = redis.NewScript(revokeScript)

// KEYS: token hash, token activity zset, family activity zset
// ARGV: token id, rotated-to, at millis
const markConsumedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "consumed") == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "consumed", "1", "rotated_to", ARGV[2], "last_used", ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
local fam = redis.call("HGET", KEYS[1], "family")
if fam then
  redis.call("ZADD", KEYS[3], ARGV[3], fam)
end
return 4
`

var markConsumedLua = redis.NewScript(markConsumedScript)

// KEYS: family hash, old token hash, next token hash, family token set,
//       token activity zset, family activity zset
// ARGV: family id, old token id, expected generation, next token id, at millis,
//       next user, next device, next fingerprint, next created millis
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local fam = redis.call("HMGET", KEYS[1], "revoked", "cur", "max")
if fam[1] == "1" then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 0 then
  return 0
end
local tok = redis.call("HMGET", KEYS[2], "revoked", "consumed", "family")
if tok[3] ~= ARGV[1] then
  return 0
end
if tok[1] == "1" then
  return 1
end
if tok[2] == "1" then
  return 2
end
if fam[2] ~= ARGV[3] then
  return 3
end
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 5
end

local nextGen = tonumber(ARGV[3]) + 1
redis.call("HSET", KEYS[2], "consumed", "1", "rotated_to", ARGV[4], "last_used", ARGV[5])
redis.call("HSET", KEYS[1], "cur", tostring(nextGen))
if tonumber(fam[3] or "0") < nextGen then
  redis.call("HSET", KEYS[1], "max", tostring(nextGen))
end
redis.call("HSET", KEYS[3],
  "user", ARGV[6], "device", ARGV[7], "family", ARGV[1], "gen", tostring(nextGen),
  "created", ARGV[9], "last_used", "0", "consumed", "0", "rotated_to", "",
  "fp", ARGV[8], "revoked", "0")
redis.call("SADD", KEYS[4], ARGV[4])
redis.call("ZADD", KEYS[5], ARGV[5], ARGV[2])
redis.call("ZADD", KEYS[5], ARGV[9], ARGV[4])
redis.call("ZADD", KEYS[6], ARGV[5], ARGV[1])
return 4
`

var rotateLua = redis.NewScript(rotateScript)

// KEYS: token activity zset, family activity zset
// ARGV: cutoff millis, token prefix, family prefix, family-token-set prefix,
//       user-set prefix, batch size
//
// Returns {records deleted, families deleted, records scanned, families scanned}.
const sweepScript = `
local cutoff = "(" .. ARGV[1]
local batch = tonumber(ARGV[6])

local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", cutoff, "LIMIT", 0, batch)
local records = 0
for _, id in ipairs(ids) do
  local tk = ARGV[2] .. id
  local fam = redis.call("HGET", tk, "family")
  records = records + redis.call("DEL", tk)
  redis.call("ZREM", KEYS[1], id)
  if fam then
    redis.call("SREM", ARGV[4] .. fam, id)
  end
end

local fams = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", cutoff, "LIMIT", 0, batch)
local families = 0
for _, fid in ipairs(fams) do
  local setKey = ARGV[4] .. fid
  if redis.call("SCARD", setKey) == 0 then
    local fk = ARGV[3] .. fid
    local user = redis.call("HGET", fk, "user")
    if user then
      redis.call("SREM", ARGV[5] .. user, fid)
    end
    families = families + redis.call("DEL", fk)
    redis.call("DEL", setKey)
    redis.call("ZREM", KEYS[2], fid)
  end
end

return {records, families, #ids, #fams}
`

var sweepLua = redis.NewScript(sweepScript)
