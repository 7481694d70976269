package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"salesflow/engine"
)

// CadenceWorker runs the cadence engine on a schedule with elevated access.
// Each tick is an independent bounded batch; overlap with a manual trigger
// is tolerated by the engine's idempotency guard.
type CadenceWorker struct {
	cron   *cron.Cron
	engine *engine.Engine
	spec   string
	logger *logrus.Logger
}

func NewCadenceWorker(eng *engine.Engine, spec string, logger *logrus.Logger) *CadenceWorker {
	return &CadenceWorker{
		cron:   cron.New(),
		engine: eng,
		spec:   spec,
		logger: logger,
	}
}

func (cw *CadenceWorker) Start() error {
	_, err := cw.cron.AddFunc(cw.spec, cw.runOnce)
	if err != nil {
		return err
	}
	cw.cron.Start()
	cw.logger.WithField("spec", cw.spec).Info("cadence worker started")
	return nil
}

func (cw *CadenceWorker) Stop() {
	cw.cron.Stop()
	cw.logger.Info("cadence worker stopped")
}

func (cw *CadenceWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := cw.engine.Run(ctx, time.Now(), engine.Scope{})
	if err != nil {
		cw.logger.WithError(err).Error("scheduled cadence run failed")
		return
	}

	if result.Processed == 0 {
		cw.logger.Debug("no due enrollments")
		return
	}

	cw.logger.WithFields(logrus.Fields{
		"processed": result.Processed,
		"sent":      result.Sent,
		"failed":    result.Failed,
		"completed": result.Completed,
		"skipped":   result.Skipped,
		"errors":    len(result.Errors),
	}).Info("scheduled cadence run finished")
}
