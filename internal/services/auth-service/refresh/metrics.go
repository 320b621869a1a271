package refresh

import (
	"errors"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_tokens_issued_total", Help: "Refresh tokens issued, rotations included.",
	})
	mRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_rotations_total", Help: "Successful refresh token rotations.",
	})
	mInvalid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_validation_failures_total", Help: "Rejected refresh tokens by reason.",
	}, []string{"reason"})
	mRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_tokens_revoked_total", Help: "Refresh tokens revoked by scope.",
	}, []string{"scope"})
	mReuse = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_reuse_detected_total", Help: "Rotated-away refresh tokens presented again.",
	})
	mSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_tokens_swept_total", Help: "Expired refresh tokens deleted.",
	})
	mSweepErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refresh_sweep_errors_total", Help: "Failed sweep runs.",
	})
	mSweepDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "refresh_sweep_duration_seconds", Help: "Sweep run duration.",
		Buckets: prometheus.DefBuckets,
	})
)

// Reason names a refresh failure for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, domainauth.ErrRefreshNotFound):
		return "not_found"
	case errors.Is(err, domainauth.ErrRefreshRevoked):
		return "revoked"
	case errors.Is(err, domainauth.ErrRefreshExpired):
		return "expired"
	default:
		return "error"
	}
}
