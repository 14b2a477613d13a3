package agent

import (
	"context"

	"github.com/sirupsen/logrus"
)

// handleSignal delivers a restart or end trigger. A restart keeps the
// context label of the running session.
func handleSignal(ctx context.Context, log logrus.FieldLogger, a Agent, restart bool, defaultLabel string) {
	lc := a.Lifecycle()

	if !restart {
		log.Info("Ending session on signal")

		if err := lc.OnSessionEnd(ctx); err != nil {
			log.WithError(err).Warn("Session end failed")
		}

		return
	}

	label := lc.Status().Context
	if label == "" {
		label = defaultLabel
	}

	log.WithField("context", label).Info("Restarting session on signal")

	if err := lc.OnSessionStart(ctx, label); err != nil {
		log.WithError(err).Warn("Session restart failed")
	}
}
