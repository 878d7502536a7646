package redis

const (
	// addUsageScript atomically increments one field of a day's usage record
	// and indexes the date
	addUsageScript = `
local usage_key = KEYS[1]       -- kiosktime:usage:{date}
local dates_key = KEYS[2]       -- kiosktime:usage:dates

local field = ARGV[1]
local minutes = tonumber(ARGV[2])
local date = ARGV[3]
local score = tonumber(ARGV[4])

redis.call('HSETNX', usage_key, 'used_minutes', 0)
redis.call('HSETNX', usage_key, 'credits', 0)
redis.call('HINCRBY', usage_key, field, minutes)
redis.call('ZADD', dates_key, score, date)

local used = tonumber(redis.call('HGET', usage_key, 'used_minutes'))
local credits = tonumber(redis.call('HGET', usage_key, 'credits'))
return {used, credits}
`

	// deleteUsageBeforeScript removes usage records dated before the cutoff
	deleteUsageBeforeScript = `
local dates_key = KEYS[1]       -- kiosktime:usage:dates

local prefix = ARGV[1]
local cutoff = ARGV[2]

local dates = redis.call('ZRANGEBYSCORE', dates_key, '-inf', '(' .. cutoff)
for _, date in ipairs(dates) do
  redis.call('DEL', prefix .. ':usage:' .. date)
end
redis.call('ZREMRANGEBYSCORE', dates_key, '-inf', '(' .. cutoff)

return #dates
`

	// saveSessionScript atomically stores a session and its indexes
	saveSessionScript = `
local session_key = KEYS[1]     -- kiosktime:session:{id}
local date_key = KEYS[2]        -- kiosktime:sessions:date:{date}
local started_key = KEYS[3]     -- kiosktime:sessions:started

local id = ARGV[1]
local started_unix = tonumber(ARGV[4])

redis.call('HSET', session_key,
  'id', id,
  'date', ARGV[2],
  'started_at', ARGV[3],
  'ended_at', ARGV[5],
  'elapsed_seconds', ARGV[6],
  'limit_seconds', ARGV[7],
  'used_minutes', ARGV[8],
  'outcome', ARGV[9]
)
redis.call('SADD', date_key, id)
redis.call('ZADD', started_key, started_unix, id)

return 'OK'
`

	// deleteSessionsBeforeScript removes sessions started before the cutoff
	deleteSessionsBeforeScript = `
local started_key = KEYS[1]     -- kiosktime:sessions:started

local prefix = ARGV[1]
local cutoff = ARGV[2]

local ids = redis.call('ZRANGEBYSCORE', started_key, '-inf', '(' .. cutoff)
for _, id in ipairs(ids) do
  local session_key = prefix .. ':session:' .. id
  local date = redis.call('HGET', session_key, 'date')
  if date then
    redis.call('SREM', prefix .. ':sessions:date:' .. date, id)
  end
  redis.call('DEL', session_key)
end
redis.call('ZREMRANGEBYSCORE', started_key, '-inf', '(' .. cutoff)

return #ids
`
)
