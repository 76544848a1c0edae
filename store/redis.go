package store

import (
	"context"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphub/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps chat history in a Redis list per session:
// `/<prefix>/chathistory/<sessionID>` holds the serialized messages,
// trimmed to the last MaxMessages entries.

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a message store backed by Redis.
func NewRedisStore(client *redis.Client, prefix string) MessageStore {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) key(sessionID string) string {
	return path.Join(m.prefix, "chathistory", sessionID)
}

func (m *redisStore) Messages(ctx context.Context, sessionID string) []llms.Message {
	data, err := m.client.LRange(ctx, m.key(sessionID), 0, -1).Result()
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "reason", "LRange", "session", sessionID, "err", err.Error())
		return nil
	}

	var messages []llms.Message
	for _, item := range data {
		msg, err := unmarshalMessage([]byte(item))
		if err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal message", "err", err.Error())
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (m *redisStore) Add(ctx context.Context, sessionID string, msgs ...llms.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := marshalMessage(msg)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	key := m.key(sessionID)
	pipe := m.client.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -MaxMessages, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store messages in Redis")
	}
	return nil
}

func (m *redisStore) Reset(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, m.key(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "failed to reset chat history in Redis")
	}
	return nil
}
