//go:build windows

package agent

import (
	"context"

	"github.com/sirupsen/logrus"
)

// WatchSignals is a no-op where SIGHUP and SIGUSR1 do not exist. Use the
// control endpoints instead.
func WatchSignals(_ context.Context, _ logrus.FieldLogger, _ Agent, _ string) {}
