// Package pipeline runs the ordered, idempotent provisioning sequence that
// turns an empty VM directory into a bootable headless Ubuntu machine.
// Every step checks for its artifact before acting, so re-running after a
// partial failure resumes where the previous run stopped.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terabiome/hatchery/internal/config"
	"github.com/terabiome/hatchery/internal/qemu"
	"github.com/terabiome/hatchery/pkg/executor"
	"github.com/terabiome/hatchery/pkg/executor/isomaster"
)

// Fetcher downloads a remote artifact to a local path, verifying the digest
// when one is supplied.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest, wantSHA256 string) error
}

type Pipeline struct {
	cfg       *config.Config
	exec      executor.Executor
	fetcher   Fetcher
	masterers []isomaster.Masterer
	logger    *slog.Logger

	detectQEMU func() (string, error)

	stepCounter  metric.Int64Counter
	stepDuration metric.Float64Histogram

	// resolved during Run
	qemuBinary string
	masterer   isomaster.Masterer
	degraded   bool
}

func New(
	cfg *config.Config,
	exec executor.Executor,
	fetcher Fetcher,
	masterers []isomaster.Masterer,
	logger *slog.Logger,
) *Pipeline {
	meter := otel.Meter("hatchery/pipeline")

	stepCounter, err := meter.Int64Counter(
		"hatchery.pipeline.step",
		metric.WithDescription("Number of provisioning step executions"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		logger.Warn("failed to create stepCounter metric", slog.String("error", err.Error()))
	}

	stepDuration, err := meter.Float64Histogram(
		"hatchery.pipeline.step.duration",
		metric.WithDescription("Duration of provisioning steps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create stepDuration metric", slog.String("error", err.Error()))
	}

	return &Pipeline{
		cfg:          cfg,
		exec:         exec,
		fetcher:      fetcher,
		masterers:    masterers,
		logger:       logger.With(slog.String("component", "pipeline")),
		detectQEMU:   qemu.Detect,
		stepCounter:  stepCounter,
		stepDuration: stepDuration,
	}
}

type step struct {
	name string
	run  func(ctx context.Context, log *slog.Logger) error
}

// Run executes the provisioning steps strictly in order. The first step is
// a hard precondition; later steps propagate tool failures without retry or
// rollback, relying on idempotence to make a re-run safe.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.New()
	log := p.logger.With(
		slog.String("run_id", runID.String()),
		slog.String("vm", p.cfg.Profile.Name),
	)

	tracer := otel.Tracer("hatchery/pipeline")
	ctx, span := tracer.Start(ctx, "Provision")
	defer span.End()
	span.SetAttributes(attribute.String("vm.name", p.cfg.Profile.Name))

	steps := []step{
		{name: "check-qemu", run: p.checkQEMU},
		{name: "ensure-directories", run: p.ensureDirectories},
		{name: "ensure-base-image", run: p.ensureBaseImage},
		{name: "ensure-disk", run: p.ensureDisk},
		{name: "write-seed", run: p.writeSeed},
		{name: "ensure-ssh-key", run: p.ensureSSHKey},
		{name: "write-control-scripts", run: p.writeControlScripts},
	}

	log.Info("provisioning VM", slog.String("dir", p.cfg.Profile.Dir))

	for _, s := range steps {
		startTime := time.Now()
		err := s.run(ctx, log.With(slog.String("step", s.name)))

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		if p.stepCounter != nil {
			p.stepCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("step", s.name),
				attribute.String("outcome", outcome),
			))
		}
		if p.stepDuration != nil {
			p.stepDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(
				attribute.String("step", s.name),
			))
		}

		if err != nil {
			return fmt.Errorf("provisioning step %s failed: %w", s.name, err)
		}
	}

	log.Info("provisioning complete",
		slog.String("dir", p.cfg.Profile.Dir),
		slog.Int("ssh_port", p.cfg.Profile.SSHPort),
		slog.Bool("seed_iso", !p.degraded),
	)
	return nil
}

// QEMUBinary returns the binary resolved by the last Run.
func (p *Pipeline) QEMUBinary() string {
	return p.qemuBinary
}

// Degraded reports whether the last Run skipped the delivery ISO because no
// mastering tool was installed.
func (p *Pipeline) Degraded() bool {
	return p.degraded
}
