package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ThresholdProvider yields the minimum NLU confidence accepted for a tenant.
type ThresholdProvider interface {
	Threshold(ctx context.Context, tenantID string) float64
	// RecordSample notes whether a proposal built from NLU output was accepted by the user.
	RecordSample(ctx context.Context, tenantID string, ok bool)
}

// StaticThreshold always answers the configured value.
type StaticThreshold float64

func (s StaticThreshold) Threshold(context.Context, string) float64 { return float64(s) }
func (StaticThreshold) RecordSample(context.Context, string, bool)  {}

const (
	calibrationPrefix     = "nlu:calib:"
	calibrationMaxSamples = 200
	calibrationWindow     = 24 * time.Hour
	calibrationExpiry     = 72 * time.Hour
	defaultAccuracy       = 0.75

	thresholdFloor   = 0.45
	thresholdCeiling = 0.75
)

type calibrationSample struct {
	TS int64 `json:"ts"`
	OK bool  `json:"ok"`
}

// AdaptiveThreshold lowers the bar for tenants whose proposals users usually accept
// and raises it when they are often rejected.
type AdaptiveThreshold struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewAdaptiveThreshold(client *redis.Client, logger *zap.Logger, now func() time.Time) *AdaptiveThreshold {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &AdaptiveThreshold{client: client, logger: logger, now: now}
}

func (a *AdaptiveThreshold) RecordSample(ctx context.Context, tenantID string, ok bool) {
	data, _ := json.Marshal(calibrationSample{TS: a.now().UnixMilli(), OK: ok})
	key := calibrationPrefix + tenantID
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, calibrationMaxSamples-1)
		pipe.Expire(ctx, key, calibrationExpiry)
		return nil
	})
	if err != nil {
		a.logger.Warn("calibration sample not recorded", zap.String("tenantID", tenantID), zap.Error(err))
	}
}

func (a *AdaptiveThreshold) Threshold(ctx context.Context, tenantID string) float64 {
	raw, err := a.client.LRange(ctx, calibrationPrefix+tenantID, 0, calibrationMaxSamples-1).Result()
	if err != nil {
		a.logger.Warn("calibration read failed", zap.String("tenantID", tenantID), zap.Error(err))
		return ThresholdFor(defaultAccuracy)
	}
	cutoff := a.now().Add(-calibrationWindow).UnixMilli()
	var total, good int
	for _, item := range raw {
		var s calibrationSample
		if json.Unmarshal([]byte(item), &s) != nil || s.TS < cutoff {
			continue
		}
		total++
		if s.OK {
			good++
		}
	}
	accuracy := defaultAccuracy
	if total > 0 {
		accuracy = float64(good) / float64(total)
	}
	return ThresholdFor(accuracy)
}

// ThresholdFor maps an observed accuracy to a confidence threshold.
func ThresholdFor(accuracy float64) float64 {
	t := 0.7 - (accuracy-0.7)*0.3
	if t < thresholdFloor {
		return thresholdFloor
	}
	if t > thresholdCeiling {
		return thresholdCeiling
	}
	return t
}
