package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
)

const (
	SLOWindow = 24 * time.Hour

	StatusPass = "pass"
	StatusFail = "fail"
)

type SLOTargets struct {
	SuccessRateMin float64 `json:"successRateMin" validate:"gte=0,lte=100"`
	DeadLetterMax  int     `json:"deadLetterMax"  validate:"gte=0"`
}

func DefaultSLOTargets() SLOTargets {
	return SLOTargets{SuccessRateMin: 95, DeadLetterMax: 20}
}

type SLOStatus struct {
	SuccessRate string `json:"successRate"`
	DeadLetter  string `json:"deadLetter"`
}

// SLOReport is the rolling delivery report over Window.
type SLOReport struct {
	OK          bool       `json:"ok"`
	Window      string     `json:"window"`
	Sent        int        `json:"sent"`
	Failed      int        `json:"failed"`
	DeadLetter  int        `json:"deadLetter"`
	SuccessRate float64    `json:"successRate"`
	SLOTargets  SLOTargets `json:"sloTargets"`
	SLOStatus   SLOStatus  `json:"sloStatus"`
}

// ComputeSLO derives the report from raw counts. With no sends or failures
// the success rate is 100.
func ComputeSLO(counts models.OutcomeCounts, targets SLOTargets) SLOReport {
	successRate := 100.0
	if total := counts.Sent + counts.Failed; total > 0 {
		successRate = float64(counts.Sent) / float64(total) * 100
	}

	report := SLOReport{
		OK:          true,
		Window:      "24h",
		Sent:        counts.Sent,
		Failed:      counts.Failed,
		DeadLetter:  counts.DeadLetter,
		SuccessRate: successRate,
		SLOTargets:  targets,
		SLOStatus:   SLOStatus{SuccessRate: StatusFail, DeadLetter: StatusFail},
	}

	if successRate >= targets.SuccessRateMin {
		report.SLOStatus.SuccessRate = StatusPass
	}

	if counts.DeadLetter <= targets.DeadLetterMax {
		report.SLOStatus.DeadLetter = StatusPass
	}

	return report
}

// SLOService reads outcome counts. It never writes.
type SLOService struct {
	messages    persistence.ScheduledMessageRepository
	deadLetters persistence.DeadLetterRepository
	targets     SLOTargets
	now         func() time.Time
}

func NewSLOService(p persistence.Persistence, targets SLOTargets) *SLOService {
	return &SLOService{
		messages:    p.ScheduledMessages(),
		deadLetters: p.DeadLetters(),
		targets:     targets,
		now:         time.Now,
	}
}

func (s *SLOService) Report(ctx context.Context) (SLOReport, error) {
	since := s.now().Add(-SLOWindow)

	sent, failed, err := s.messages.CountOutcomes(ctx, since)
	if err != nil {
		return SLOReport{}, fmt.Errorf("failed to count outcomes: %w", err)
	}

	deadLetters, err := s.deadLetters.CountSince(ctx, since)
	if err != nil {
		return SLOReport{}, fmt.Errorf("failed to count dead letters: %w", err)
	}

	return ComputeSLO(models.OutcomeCounts{Sent: sent, Failed: failed, DeadLetter: deadLetters}, s.targets), nil
}
