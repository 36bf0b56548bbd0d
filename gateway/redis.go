package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// historyLen is the number of records kept per device
const historyLen = 1000

// RedisOptions configures a RedisSink
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Channel  string // Records are published here, announcements to Channel + ":teach_in"
}

// RedisSink publishes records and announcements and keeps a capped history list per device
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to Redis and checks the connection
func NewRedisSink(ctx context.Context, o RedisOptions) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
		PoolSize: o.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting to %v: %w", o.Addr, err)
	}
	log.Infof("Connected to redis at %v", o.Addr)
	return &RedisSink{client: client, channel: o.Channel}, nil
}

func recordKey(sender esp3.SenderID) string {
	return fmt.Sprintf("enocean:%v:records", sender)
}

func (s *RedisSink) teachInChannel() string {
	return s.channel + ":teach_in"
}

func (s *RedisSink) push(ctx context.Context, channel, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}

	// The history is best effort, the publish is what counts
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, historyLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("redis: saving history to %v: %v", key, err)
	}
	return nil
}

// Record implements Sink
func (s *RedisSink) Record(ctx context.Context, r eep.Record) error {
	return s.push(ctx, s.channel, recordKey(r.Sender), r)
}

// Announce implements Sink
func (s *RedisSink) Announce(ctx context.Context, a eep.Announcement) error {
	return s.push(ctx, s.teachInChannel(), "enocean:announcements", a)
}

// History returns up to n of the latest records of a sender, newest first
func (s *RedisSink) History(ctx context.Context, sender esp3.SenderID, n int64) ([]eep.Record, error) {
	vals, err := s.client.LRange(ctx, recordKey(sender), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]eep.Record, 0, len(vals))
	for _, v := range vals {
		var r eep.Record
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// Close closes the connection
func (s *RedisSink) Close() error {
	return s.client.Close()
}
