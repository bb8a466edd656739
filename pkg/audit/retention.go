package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RetentionJob periodically deletes audit events past the retention window
type RetentionJob struct {
	logger *DBLogger
	policy RetentionPolicy
	log    *logrus.Logger
	cron   *cron.Cron
}

// NewRetentionJob creates a retention job; schedule is a cron expression
// or descriptor such as "@daily".
func NewRetentionJob(logger *DBLogger, policy RetentionPolicy, log *logrus.Logger) *RetentionJob {
	if log == nil {
		log = logrus.New()
	}
	return &RetentionJob{
		logger: logger,
		policy: policy,
		log:    log,
		cron:   cron.New(),
	}
}

// Start registers the cleanup schedule and starts the cron runner
func (j *RetentionJob) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, j.runOnce)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for a running cleanup to finish
func (j *RetentionJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *RetentionJob) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := j.logger.Cleanup(ctx, j.policy)
	if err != nil {
		j.log.WithError(err).Error("audit retention cleanup failed")
		return
	}
	j.log.WithFields(logrus.Fields{
		"deleted":        deleted,
		"retention_days": j.policy.RetentionDays,
	}).Info("audit retention cleanup complete")
}
