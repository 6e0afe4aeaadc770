package exporter

import "context"

// JournalHealthChecker surfaces the telemetry journal on /health.
type JournalHealthChecker struct {
	countFunc func(ctx context.Context) (int64, error)
}

func NewJournalHealthChecker(countFunc func(ctx context.Context) (int64, error)) *JournalHealthChecker {
	return &JournalHealthChecker{countFunc: countFunc}
}

func (c *JournalHealthChecker) Name() string {
	return "journal"
}

func (c *JournalHealthChecker) Check(ctx context.Context) (bool, string) {
	if _, err := c.countFunc(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}
