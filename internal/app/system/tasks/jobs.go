// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"go.uber.org/zap"
)

// AuditPruner deletes audit events older than a cutoff.
type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RedeemableCounter counts records that can still be redeemed.
type RedeemableCounter interface {
	CountRedeemable(ctx context.Context, now time.Time) (int64, error)
}

// AuditRetentionJob removes audit events older than retention. A
// non-positive retention disables the job.
func AuditRetentionJob(events AuditPruner, logger *zap.Logger, retention time.Duration) Job {
	j := Job{Name: "audit-retention"}
	if retention <= 0 {
		return j
	}
	j.Interval = time.Hour
	j.Run = func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-retention)
		count, err := events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Info("pruned audit events",
				zap.Int64("count", count),
				zap.Time("cutoff", cutoff))
		}
		return nil
	}
	return j
}

// RedeemableCodesJob refreshes the redeemable codes gauge.
func RedeemableCodesJob(codes RedeemableCounter, interval time.Duration) Job {
	return Job{
		Name:     "redeemable-codes-gauge",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := codes.CountRedeemable(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			metrics.SetRedeemableCodes(n)
			return nil
		},
	}
}
