package usage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/internal/observability"
)

// ProbeResult is the raw outcome of one filesystem scan.
type ProbeResult struct {
	TotalBytes   int64
	FileCount    int64
	SkippedFiles int64
}

// Prober computes raw storage usage. Implemented by Probe; faked in tests.
type Prober interface {
	ComputeUsage(ctx context.Context) (ProbeResult, error)
	Root() string
}

// Probe walks the managed root and sums regular-file sizes. A single
// file's stat failure is logged and skipped; a walk-level failure is
// retried exactly once after a short fixed delay, then returned.
type Probe struct {
	root       string
	retryDelay time.Duration
	metrics    *observability.Metrics
	collector  *errors.ErrorCollector
}

// NewProbe creates a Probe for the given root directory.
func NewProbe(root string, retryDelay time.Duration, metrics *observability.Metrics, collector *errors.ErrorCollector) *Probe {
	return &Probe{
		root:       root,
		retryDelay: retryDelay,
		metrics:    metrics,
		collector:  collector,
	}
}

// Root returns the managed root directory.
func (p *Probe) Root() string {
	return p.root
}

// ComputeUsage ensures the managed root exists, then recursively sums file
// sizes under it. Returns a ProbeError after the single retry is exhausted.
func (p *Probe) ComputeUsage(ctx context.Context) (ProbeResult, error) {
	start := time.Now()

	if err := os.MkdirAll(p.root, 0o755); err != nil {
		p.reportFailure("create root", err)
		return ProbeResult{}, errors.New(errors.ErrProbeFailed, "usage.probe",
			fmt.Sprintf("cannot ensure storage root %s: %v", p.root, err), err)
	}

	res, err := p.walk(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}

		slog.Warn("usage walk failed, retrying once",
			"root", p.root,
			"retry_delay", p.retryDelay,
			"error", err,
		)

		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return ProbeResult{}, ctx.Err()
		}

		res, err = p.walk(ctx)
		if err != nil {
			p.reportFailure("walk", err)
			return ProbeResult{}, errors.New(errors.ErrProbeFailed, "usage.probe",
				fmt.Sprintf("usage walk of %s failed after retry: %v", p.root, err), err)
		}
	}

	p.metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	if res.SkippedFiles > 0 {
		p.metrics.FilesSkippedTotal.Add(float64(res.SkippedFiles))
	}

	slog.Debug("usage probe completed",
		"root", p.root,
		"total_bytes", res.TotalBytes,
		"files", res.FileCount,
		"skipped", res.SkippedFiles,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (p *Probe) walk(ctx context.Context) (ProbeResult, error) {
	var res ProbeResult

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Directory-level failure aborts the walk; the caller retries.
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// A single unreadable file is not fatal.
			slog.Warn("skipping unreadable file", "path", path, "error", err)
			res.SkippedFiles++
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		res.TotalBytes += info.Size()
		res.FileCount++
		return nil
	})
	if err != nil {
		return ProbeResult{}, err
	}
	return res, nil
}

func (p *Probe) reportFailure(op string, err error) {
	p.metrics.ProbeFailuresTotal.Inc()
	p.metrics.ErrorsTotal.WithLabelValues(string(errors.ErrProbeFailed)).Inc()
	p.collector.Report(errors.QuotaError{
		Code:      errors.ErrProbeFailed,
		Message:   fmt.Sprintf("probe %s: %v", op, err),
		Component: "usage.probe",
		Timestamp: time.Now().UnixMilli(),
		Err:       err,
	})
}
