package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// terminalWriteTimeout bounds writes issued on the way out of a call. They run
// detached from the caller's context so a closing UI cannot cut them short.
const terminalWriteTimeout = 10 * time.Second

// DeclineRecord writes the decline fields on behalf of by and schedules the
// record's deletion after cleanupDelay. Returns false if the record was already
// gone.
func DeclineRecord(ctx context.Context, repo CallRepository, callID, by string, at time.Time, cleanupDelay time.Duration) (bool, error) {
	return writeTerminal(ctx, repo, callID, domain.DeclinePatch(by, at), cleanupDelay)
}

func writeTerminal(ctx context.Context, repo CallRepository, callID string, patch domain.CallPatch, cleanupDelay time.Duration) (bool, error) {
	applied, err := repo.UpdateIfExists(ctx, callID, patch)
	if err != nil {
		return false, err
	}
	if applied {
		scheduleDelete(repo, callID, cleanupDelay)
	}
	return applied, nil
}

// scheduleDelete removes the record after delay. Failure is harmless: both sides
// act on the terminal fields, not on the deletion.
func scheduleDelete(repo CallRepository, callID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
		defer cancel()

		if _, err := repo.DeleteIfExists(ctx, callID); err != nil {
			metrics.CallCleanupErrorsTotal.Inc()
			logger.Debug("Call record cleanup failed",
				zap.String("call_id", callID),
				zap.Error(err))
		}
	})
}
