package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agentkit/runtime/agent/ident"
)

// redisStore is a durable Store backed by Redis, the literal rendering of
// "durable across hibernation" in a non-Durable-Object host. Each logical
// table is namespaced under a "agentkit:<table>:<instance>[:<row>]" key,
// mirroring the registry package's redisKeyForMapping/redisKeyForStream
// naming convention.
type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore constructs a Store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client) Store {
	return &redisStore{rdb: rdb}
}

func persistKey(id ident.ID) string   { return fmt.Sprintf("agentkit:persist:%s", id.String()) }
func messagesKey(id ident.ID) string  { return fmt.Sprintf("agentkit:messages:%s", id.String()) }
func msgOrderKey(id ident.ID) string  { return fmt.Sprintf("agentkit:messages:order:%s", id.String()) }
func streamsKey(id ident.ID) string   { return fmt.Sprintf("agentkit:streams:%s", id.String()) }
func schedulesKey(id ident.ID) string { return fmt.Sprintf("agentkit:schedules:%s", id.String()) }
func attachKey(id ident.ID) string    { return fmt.Sprintf("agentkit:connattach:%s", id.String()) }

func (r *redisStore) LoadPersist(ctx context.Context, id ident.ID) (Persisted, bool, error) {
	raw, err := r.rdb.Get(ctx, persistKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Persisted{}, false, nil
	}
	if err != nil {
		return Persisted{}, false, fmt.Errorf("storage: load persist: %w", err)
	}
	var p Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return Persisted{}, false, fmt.Errorf("storage: decode persist: %w", err)
	}
	return p, true, nil
}

func (r *redisStore) SavePersist(ctx context.Context, id ident.ID, p Persisted) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("storage: encode persist: %w", err)
	}
	if err := r.rdb.Set(ctx, persistKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("storage: save persist: %w", err)
	}
	return nil
}

func (r *redisStore) UpsertMessage(ctx context.Context, id ident.ID, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("storage: encode message: %w", err)
	}
	added, err := r.rdb.HSetNX(ctx, messagesKey(id), msg.ID, "").Result()
	if err != nil {
		return fmt.Errorf("storage: reserve message slot: %w", err)
	}
	if err := r.rdb.HSet(ctx, messagesKey(id), msg.ID, raw).Err(); err != nil {
		return fmt.Errorf("storage: upsert message: %w", err)
	}
	if added {
		if err := r.rdb.RPush(ctx, msgOrderKey(id), msg.ID).Err(); err != nil {
			return fmt.Errorf("storage: record message order: %w", err)
		}
	}
	return nil
}

func (r *redisStore) GetMessage(ctx context.Context, id ident.ID, msgID string) (Message, bool, error) {
	raw, err := r.rdb.HGet(ctx, messagesKey(id), msgID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("storage: get message: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, false, fmt.Errorf("storage: decode message: %w", err)
	}
	return msg, true, nil
}

func (r *redisStore) ListMessages(ctx context.Context, id ident.ID) ([]Message, error) {
	ids, err := r.rdb.LRange(ctx, msgOrderKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: list message order: %w", err)
	}
	out := make([]Message, 0, len(ids))
	for _, msgID := range ids {
		msg, ok, err := r.GetMessage(ctx, id, msgID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *redisStore) ClearMessages(ctx context.Context, id ident.ID) error {
	if err := r.rdb.Del(ctx, messagesKey(id), msgOrderKey(id)).Err(); err != nil {
		return fmt.Errorf("storage: clear messages: %w", err)
	}
	return nil
}

func (r *redisStore) CreateStream(ctx context.Context, id ident.ID, streamID string) error {
	raw, err := json.Marshal(StreamRecord{ID: streamID})
	if err != nil {
		return err
	}
	added, err := r.rdb.HSetNX(ctx, streamsKey(id), streamID, raw).Result()
	if err != nil {
		return fmt.Errorf("storage: create stream: %w", err)
	}
	_ = added
	return nil
}

func (r *redisStore) AppendChunk(ctx context.Context, id ident.ID, streamID string, chunk Chunk) error {
	rec, ok, err := r.GetStream(ctx, id, streamID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	rec.Chunks = append(rec.Chunks, chunk)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, streamsKey(id), streamID, raw).Err(); err != nil {
		return fmt.Errorf("storage: append chunk: %w", err)
	}
	return nil
}

func (r *redisStore) GetStream(ctx context.Context, id ident.ID, streamID string) (StreamRecord, bool, error) {
	raw, err := r.rdb.HGet(ctx, streamsKey(id), streamID).Bytes()
	if errors.Is(err, redis.Nil) {
		return StreamRecord{}, false, nil
	}
	if err != nil {
		return StreamRecord{}, false, fmt.Errorf("storage: get stream: %w", err)
	}
	var rec StreamRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return StreamRecord{}, false, fmt.Errorf("storage: decode stream: %w", err)
	}
	return rec, true, nil
}

func (r *redisStore) MarkStreamTerminal(ctx context.Context, id ident.ID, streamID string, canceled bool) error {
	rec, ok, err := r.GetStream(ctx, id, streamID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	rec.Completed = true
	rec.Canceled = canceled
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, streamsKey(id), streamID, raw).Err(); err != nil {
		return fmt.Errorf("storage: mark stream terminal: %w", err)
	}
	return nil
}

func (r *redisStore) ClearStreams(ctx context.Context, id ident.ID) error {
	if err := r.rdb.Del(ctx, streamsKey(id)).Err(); err != nil {
		return fmt.Errorf("storage: clear streams: %w", err)
	}
	return nil
}

func (r *redisStore) UpsertSchedule(ctx context.Context, id ident.ID, sched Schedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, schedulesKey(id), sched.ID, raw).Err(); err != nil {
		return fmt.Errorf("storage: upsert schedule: %w", err)
	}
	return nil
}

func (r *redisStore) DeleteSchedule(ctx context.Context, id ident.ID, scheduleID string) (bool, error) {
	n, err := r.rdb.HDel(ctx, schedulesKey(id), scheduleID).Result()
	if err != nil {
		return false, fmt.Errorf("storage: delete schedule: %w", err)
	}
	return n > 0, nil
}

func (r *redisStore) ListSchedules(ctx context.Context, id ident.ID) ([]Schedule, error) {
	raw, err := r.rdb.HGetAll(ctx, schedulesKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: list schedules: %w", err)
	}
	out := make([]Schedule, 0, len(raw))
	for _, v := range raw {
		var s Schedule
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, fmt.Errorf("storage: decode schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *redisStore) PutAttachment(ctx context.Context, id ident.ID, connID string, attach Attachment) error {
	raw, err := json.Marshal(attach)
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, attachKey(id), connID, raw).Err(); err != nil {
		return fmt.Errorf("storage: put attachment: %w", err)
	}
	return nil
}

func (r *redisStore) GetAttachment(ctx context.Context, id ident.ID, connID string) (Attachment, bool, error) {
	raw, err := r.rdb.HGet(ctx, attachKey(id), connID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Attachment{}, false, nil
	}
	if err != nil {
		return Attachment{}, false, fmt.Errorf("storage: get attachment: %w", err)
	}
	var a Attachment
	if err := json.Unmarshal(raw, &a); err != nil {
		return Attachment{}, false, fmt.Errorf("storage: decode attachment: %w", err)
	}
	return a, true, nil
}

func (r *redisStore) DeleteAttachment(ctx context.Context, id ident.ID, connID string) error {
	if err := r.rdb.HDel(ctx, attachKey(id), connID).Err(); err != nil {
		return fmt.Errorf("storage: delete attachment: %w", err)
	}
	return nil
}
