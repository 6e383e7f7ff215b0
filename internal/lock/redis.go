package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"caption-scheduler/internal/model"
)

// lockScript checks the slot key, then the item cooldown key, and only then
// writes the slot, cooldown, assignment and schedule index in one step.
//
// KEYS: slot, item, assignment, schedule index
// ARGV: assignment key, schedule id, payload, slot unix seconds, cooldown
// seconds, ttl milliseconds, assignment key prefix
var lockScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder then
  if holder == ARGV[1] and redis.call('HGET', KEYS[3], 'schedule_id') == ARGV[2] then
    return {1, 'idempotent', holder, redis.call('HGET', KEYS[3], 'payload')}
  end
  local other = redis.call('HGET', ARGV[7] .. holder, 'payload')
  return {0, 'slot_taken', holder, other or false}
end
local cd = redis.call('HGETALL', KEYS[2])
local slot = tonumber(ARGV[4])
local cooldown = tonumber(ARGV[5])
for i = 1, #cd, 2 do
  local at = tonumber(cd[i + 1])
  if cd[i] ~= ARGV[1] and math.abs(at - slot) < cooldown then
    return {0, 'item_cooldown', cd[i], false}
  end
end
local ttl = tonumber(ARGV[6])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[2], ttl + cooldown * 1000)
redis.call('HSET', KEYS[3], 'schedule_id', ARGV[2], 'payload', ARGV[3], 'slot_key', KEYS[1], 'item_key', KEYS[2], 'active', '1')
redis.call('PEXPIRE', KEYS[3], ttl)
redis.call('SADD', KEYS[4], ARGV[1])
redis.call('PEXPIRE', KEYS[4], ttl)
return {1, 'acquired', ARGV[1], ARGV[3]}
`)

// deactivateScript releases every active assignment of one schedule.
//
// KEYS: schedule index
// ARGV: assignment key prefix
var deactivateScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, k in ipairs(members) do
  local h = ARGV[1] .. k
  if redis.call('HGET', h, 'active') == '1' then
    local slot = redis.call('HGET', h, 'slot_key')
    if slot and redis.call('GET', slot) == k then
      redis.call('DEL', slot)
    end
    local item = redis.call('HGET', h, 'item_key')
    if item then
      redis.call('HDEL', item, k)
    end
    redis.call('HSET', h, 'active', '0')
    n = n + 1
  end
end
redis.call('DEL', KEYS[1])
return n
`)

// RedisLocker implements Locker on a single Redis node using Lua scripts.
type RedisLocker struct {
	client *redis.Client
	prefix string
	opts   Options
	now    func() time.Time
}

// NewRedisLocker wires a go-redis client. prefix namespaces every key.
//
// The scripts read assignment hashes whose names are only known after a GET,
// so not every touched key is declared in KEYS. They must run against a
// single Redis node; Redis Cluster is not supported and config validation
// rejects multi-node addresses.
func NewRedisLocker(client *redis.Client, prefix string, opts Options) *RedisLocker {
	if prefix == "" {
		prefix = "captionctl:"
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		opts:   opts.WithDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisLocker) slotKey(req Request) string {
	return fmt.Sprintf("%sslot:%s:%s:%02d", r.prefix, req.AccountID, req.SlotDate.UTC().Format("2006-01-02"), req.SlotHour)
}

func (r *RedisLocker) itemKey(req Request) string {
	return fmt.Sprintf("%sitem:%s:%d", r.prefix, req.AccountID, req.ItemID)
}

func (r *RedisLocker) assignmentPrefix() string { return r.prefix + "assignment:" }

func (r *RedisLocker) scheduleKey(id string) string { return r.prefix + "schedule:" + id }

// Lock implements Locker.
func (r *RedisLocker) Lock(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	a := NewAssignment(req, r.opts.TTL, r.now())
	payload, err := json.Marshal(a)
	if err != nil {
		return Result{}, fmt.Errorf("encode assignment: %w", err)
	}

	ttl := time.Until(a.ExpiresAt)
	if ttl < time.Minute {
		ttl = time.Minute
	}

	keys := []string{r.slotKey(req), r.itemKey(req), r.assignmentPrefix() + a.Key, r.scheduleKey(req.ScheduleID)}
	raw, err := lockScript.Run(ctx, r.client, keys,
		a.Key,
		req.ScheduleID,
		string(payload),
		req.Slot().At().Unix(),
		int64(r.opts.Cooldown/time.Second),
		ttl.Milliseconds(),
		r.assignmentPrefix(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("run lock script: %w", err)
	}
	if len(raw) != 4 {
		return Result{}, fmt.Errorf("lock script: unexpected reply %v", raw)
	}

	ok, _ := raw[0].(int64)
	status, _ := raw[1].(string)
	holder, _ := raw[2].(string)
	res := Result{HolderKey: holder}
	if body, isStr := raw[3].(string); isStr && body != "" {
		var stored model.Assignment
		if err := json.Unmarshal([]byte(body), &stored); err == nil {
			res.Assignment = stored
		}
	}

	switch {
	case ok == 1 && status == "idempotent":
		res.Acquired, res.Idempotent = true, true
	case ok == 1:
		res.Acquired = true
		res.Assignment = a
	case status == "slot_taken":
		res.Conflict = SlotTaken
	case status == "item_cooldown":
		res.Conflict = ItemCooldown
	default:
		return Result{}, fmt.Errorf("lock script: unknown status %q", status)
	}
	return res, nil
}

// DeactivateSchedule implements Locker.
func (r *RedisLocker) DeactivateSchedule(ctx context.Context, scheduleID string) (int, error) {
	n, err := deactivateScript.Run(ctx, r.client, []string{r.scheduleKey(scheduleID)}, r.assignmentPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("run deactivate script: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (r *RedisLocker) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
