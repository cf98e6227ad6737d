// Package pipeline orchestrates the extraction run: walking sessions,
// keeping the resample cache aligned with each session's grid, rendering QC
// overlays and writing per-metric CSV tables.
package pipeline

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"radextract/internal/models"
	"radextract/pkg/atlas"
	"radextract/pkg/bids"
	"radextract/pkg/config"
	"radextract/pkg/extract"
	"radextract/pkg/nifti"
	"radextract/pkg/qc"
	"radextract/pkg/resample"
)

// Report summarizes one run for logging and tests.
type Report struct {
	Sessions        int
	SessionsSkipped int
	TablesWritten   int
	QCImages        int
}

// Driver runs the extraction over a dataset. Failures below setup level are
// contained at session or metric granularity: they are logged and the run
// continues.
type Driver struct {
	cfg   *config.Config
	cache *resample.Cache
	log   *zap.SugaredLogger
}

// NewDriver wires a driver around a loaded atlas store. The cache starts
// stale and is (re)built lazily from the first session's grid.
func NewDriver(cfg *config.Config, store *atlas.Store, logger *zap.SugaredLogger) *Driver {
	return &Driver{
		cfg:   cfg,
		cache: resample.NewCache(store),
		log:   logger,
	}
}

// Cache exposes the driver's resample cache, mainly so callers can inspect
// rebuild counts.
func (d *Driver) Cache() *resample.Cache { return d.cache }

// Run processes every session under bidsRoot. Only setup failures (missing
// derivative tree) are returned as errors.
func (d *Driver) Run(bidsRoot string) (Report, error) {
	var rep Report

	sessions, err := bids.Walk(bidsRoot)
	if err != nil {
		return rep, err
	}
	d.log.Infow("starting extraction", "sessions", len(sessions), "metrics", d.cfg.Extraction.Metrics)

	for _, ses := range sessions {
		rep.Sessions++
		if d.processSession(ses, &rep) {
			continue
		}
		rep.SessionsSkipped++
	}

	d.log.Infow("extraction finished",
		"sessions", rep.Sessions,
		"skipped", rep.SessionsSkipped,
		"tables", rep.TablesWritten,
		"qcImages", rep.QCImages)
	return rep, nil
}

// processSession returns false when the session produced no outputs at all,
// neither a metric table nor a QC image.
func (d *Driver) processSession(ses bids.Session, rep *Report) bool {
	slog := d.log.With("subject", ses.Subject, "session", ses.Name)

	refPath, ok := ses.Reference()
	if !ok {
		slog.Warnw("no reference FA volume, skipping session")
		return false
	}
	ref, err := nifti.Read(refPath)
	if err != nil {
		slog.Warnw("unreadable reference volume, skipping session", "path", refPath, "error", err)
		return false
	}

	if err := d.cache.Ensure(ref.Grid); err != nil {
		slog.Warnw("atlas resampling failed, skipping session",
			"shape", ref.Grid.Shape, "affineSum", ref.Grid.AffineSum(), "error", err)
		return false
	}
	slog.Debugw("cache valid for session grid",
		"shape", ref.Grid.Shape, "rebuilds", d.cache.Rebuilds())

	if err := os.MkdirAll(ses.CSVDir(), 0755); err != nil {
		slog.Warnw("cannot create output directory, skipping session", "error", err)
		return false
	}

	produced := false
	if d.cfg.QC.Enabled {
		if d.renderQC(ses, ref, slog) {
			rep.QCImages++
			produced = true
		}
	}

	for _, metric := range d.cfg.Extraction.Metrics {
		path, ok := ses.MetricFile(metric)
		if !ok {
			slog.Infow("metric volume missing, skipping metric", "metric", metric)
			continue
		}
		vol, err := nifti.Read(path)
		if err != nil {
			slog.Warnw("unreadable metric volume, skipping metric", "metric", metric, "error", err)
			continue
		}
		// The cached masks live on the reference grid; a metric volume on
		// any other grid would pair voxels across unrelated grids.
		if !vol.Grid.Equal(ref.Grid) {
			slog.Warnw("metric volume grid differs from reference, skipping metric",
				"metric", metric, "shape", vol.Grid.Shape, "refShape", ref.Grid.Shape)
			continue
		}

		table := extract.BuildTable(vol, d.cache.Entries())
		out := filepath.Join(ses.CSVDir(), metric+"_metrics.csv")
		if err := table.WriteCSV(out); err != nil {
			slog.Warnw("failed to write metric table", "metric", metric, "error", err)
			continue
		}
		rep.TablesWritten++
		produced = true
		slog.Infow("saved metrics", "metric", metric, "regions", len(table.Columns))
	}
	return produced
}

// renderQC picks the configured overlay targets and renders the montage.
// Absence of either target skips QC for the session without failing it.
func (d *Driver) renderQC(ses bids.Session, ref *models.Volume, slog *zap.SugaredLogger) bool {
	roiVol, roiName := d.selectROI()
	if roiVol == nil {
		slog.Infow("no QC ROI target in atlas, skipping QC", "candidates", d.cfg.QC.ROICandidates)
		return false
	}
	tpmName, tpmVol, ok := d.cache.FirstTPM(d.cfg.QC.TPMSubstrings)
	if !ok {
		slog.Infow("no QC TPM target in atlas, skipping QC", "substrings", d.cfg.QC.TPMSubstrings)
		return false
	}

	title := "QC Overlay: " + ses.Subject + " " + ses.Name
	if err := qc.Render(ref, roiVol, tpmVol, title, ses.QCPath()); err != nil {
		slog.Warnw("QC rendering failed", "roi", roiName, "tpm", tpmName, "error", err)
		return false
	}
	slog.Infow("saved QC overlay", "roi", roiName, "tpm", tpmName, "path", ses.QCPath())
	return true
}

func (d *Driver) selectROI() (vol *models.Volume, name string) {
	for _, candidate := range d.cfg.QC.ROICandidates {
		if v, ok := d.cache.ROI(candidate); ok {
			return v, candidate
		}
	}
	return nil, ""
}
