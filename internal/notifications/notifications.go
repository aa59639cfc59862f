// Package notifications provides notifications through dbus
package notifications

import (
	"fmt"

	"github.com/TheCreeper/go-notify"
	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/report"
	"github.com/sirupsen/logrus"
)

type Service struct {
	config *config.Config
	hints  map[string]interface{}
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		hints: map[string]interface{}{
			"synchronous":       "modesetcfg",
			"x-dunst-stack-tag": "modesetcfg",
		},
	}
}

// NotifyRunFinished sends the pass/fail count of a finished run.
func (s *Service) NotifyRunFinished(summary *report.Summary) error {
	cfg := s.config.Get()
	if *cfg.Notifications.Disabled {
		logrus.Debug("notifications are not enabled, not sending")
		return nil
	}

	summaryLine := "Pipeline run finished"
	if summary.Count(report.OutcomeFailed) > 0 {
		summaryLine = "Pipeline run failed"
	}
	ntf := notify.NewNotification(summaryLine, summary.Headline())
	ntf.Timeout = *cfg.Notifications.TimeoutMs
	ntf.Hints = s.hints

	if _, err := ntf.Show(); err != nil {
		return fmt.Errorf("cant send notification for run: %w", err)
	}
	return nil
}
