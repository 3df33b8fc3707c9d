package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/cbdata/internal/config"
)

// Checker runs one health check per invocation. It satisfies the
// scheduler's Job interface.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Name identifies the checker as a scheduled job.
func (c *Checker) Name() string { return "monitor" }

// Run collects metrics, evaluates thresholds, and sends any alerts.
func (c *Checker) Run(ctx context.Context) error {
	_, err := c.Check(ctx)
	return err
}

// Check is Run that also returns the triggered alerts.
func (c *Checker) Check(ctx context.Context) ([]Alert, error) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	lookback := c.cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 72
	}
	snap, err := c.collector.Collect(ctx, lookback)
	if err != nil {
		return nil, err
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil, nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts, nil
}
