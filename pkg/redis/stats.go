// Package redis provides Redis operations for recording per-model-family
// request counts, bucketed by hour, for the admin status surface.
package redis

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// UsageStore records completed-request counts. It is never read by account
// selection or retry logic — only by the admin status surface.
type UsageStore struct {
	client *Client
}

// NewUsageStore creates a new UsageStore.
func NewUsageStore(client *Client) *UsageStore {
	return &UsageStore{client: client}
}

// usageTTL bounds how long an hourly bucket survives before Redis expires it.
const usageTTL = 30 * 24 * time.Hour

const subtotalField = "_subtotal"
const totalField = "_total"

// RecordRequest increments the counters for one completed request against
// modelFamily/modelName in the current UTC hour's bucket.
func (s *UsageStore) RecordRequest(ctx context.Context, modelFamily, modelName string) error {
	key := PrefixStats + hourBucket(time.Now())

	if _, err := s.client.HIncrBy(ctx, key, totalField, 1); err != nil {
		return err
	}
	if _, err := s.client.HIncrBy(ctx, key, modelFamily+":"+subtotalField, 1); err != nil {
		return err
	}
	if _, err := s.client.HIncrBy(ctx, key, modelFamily+":"+modelName, 1); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, usageTTL)
}

// Totals aggregates request counts across a trailing window of hours.
type Totals struct {
	Grand    int64
	ByFamily map[string]int64
}

// GetTotals aggregates usage for the trailing `hours` hours (default 24).
func (s *UsageStore) GetTotals(ctx context.Context, hours int) (*Totals, error) {
	if hours <= 0 {
		hours = 24
	}

	totals := &Totals{ByFamily: make(map[string]int64)}
	now := time.Now().UTC()

	for i := 0; i < hours; i++ {
		key := PrefixStats + hourBucket(now.Add(-time.Duration(i)*time.Hour))

		data, err := s.client.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}

		for field, value := range data {
			count, _ := strconv.ParseInt(value, 10, 64)

			if field == totalField {
				totals.Grand += count
				continue
			}

			family, rest, ok := splitFamilyField(field)
			if !ok || rest != subtotalField {
				continue
			}
			totals.ByFamily[family] += count
		}
	}

	return totals, nil
}

// ClearAllUsage removes every recorded usage bucket.
func (s *UsageStore) ClearAllUsage(ctx context.Context) error {
	keys, err := s.client.ScanAll(ctx, PrefixStats+"*")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Delete(ctx, keys...)
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

func splitFamilyField(field string) (family, rest string, ok bool) {
	idx := strings.IndexByte(field, ':')
	if idx < 0 {
		return "", "", false
	}
	return field[:idx], field[idx+1:], true
}

// ModelShortName strips the vendor prefix off a model name for compact
// display in usage breakdowns (e.g. "claude-opus-4-6" -> "opus-4-6").
func ModelShortName(modelName string) string {
	for _, prefix := range []string{"claude-", "gemini-"} {
		if strings.HasPrefix(modelName, prefix) {
			return modelName[len(prefix):]
		}
	}
	return modelName
}
