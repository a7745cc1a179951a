package checkpoint

import (
	"context"
	"github.com/rs/zerolog/log"
	"time"
)

// RunPruner evicts terminal checkpoints older than retention every interval
// until ctx is done.
func RunPruner(ctx context.Context, store Store, retention, interval time.Duration) error {
	if retention <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := store.Prune(ctx, now.Add(-retention))
			if err != nil {
				log.Warn().Err(err).Msg("pruning checkpoints failed")
				continue
			}
			if n > 0 {
				log.Info().Int("removed", n).Msg("pruned finished runs")
			}
		}
	}
}
