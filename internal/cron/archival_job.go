package cron

import (
	"context"
	"fmt"

	"github.com/avolkov/stockroom-backend/internal/archival"
	"github.com/avolkov/stockroom-backend/pkg/logger"
)

// ArchivalSweepJob archives dormant zero-stock products on each cycle.
type ArchivalSweepJob struct {
	logg *logger.Logger
	svc  archival.Service
}

// NewArchivalSweepJob constructs the sweep job.
func NewArchivalSweepJob(logg *logger.Logger, svc archival.Service) (*ArchivalSweepJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("archival service required")
	}
	return &ArchivalSweepJob{logg: logg, svc: svc}, nil
}

func (j *ArchivalSweepJob) Name() string {
	return "archival-sweep"
}

func (j *ArchivalSweepJob) Run(ctx context.Context) error {
	archived, err := j.svc.Sweep(ctx)
	if err != nil {
		return err
	}
	j.logg.Info(j.logg.WithField(ctx, "archived", archived), "archival sweep pass done")
	return nil
}
