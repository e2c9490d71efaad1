package scrape

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// snapshotPage is the part of browser.Page a snapshot needs.
type snapshotPage interface {
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Snapshotter saves screenshot + HTML pairs on failure paths, up to max
// per run. A zero value or empty dir disables it.
type Snapshotter struct {
	dir   string
	max   int
	taken int
	now   func() time.Time
	log   *zap.Logger
}

// NewSnapshotter returns a Snapshotter writing into dir.
func NewSnapshotter(dir string, max int) *Snapshotter {
	return &Snapshotter{
		dir: dir,
		max: max,
		now: time.Now,
		log: zap.L().With(zap.String("component", "snapshot")),
	}
}

// Taken returns how many snapshots were attempted.
func (s *Snapshotter) Taken() int {
	if s == nil {
		return 0
	}
	return s.taken
}

var unsafeReason = regexp.MustCompile(`[^a-z0-9_]+`)

// Capture writes <UTC timestamp>_<seq>_<reason>.png and .html. It reports
// whether a snapshot was attempted. Write failures are logged only.
func (s *Snapshotter) Capture(ctx context.Context, page snapshotPage, reason string) bool {
	if s == nil || s.dir == "" || s.taken >= s.max {
		return false
	}
	s.taken++

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn("snapshot: create dir failed", zap.String("dir", s.dir), zap.Error(err))
		return true
	}

	reason = strings.Trim(unsafeReason.ReplaceAllString(strings.ToLower(reason), "_"), "_")
	if reason == "" {
		reason = "snapshot"
	}
	base := filepath.Join(s.dir, fmt.Sprintf("%s_%03d_%s", s.now().UTC().Format("20060102T150405Z"), s.taken, reason))

	if png, err := page.Screenshot(ctx); err != nil {
		s.log.Debug("snapshot: screenshot failed", zap.String("reason", reason), zap.Error(err))
	} else if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		s.log.Warn("snapshot: write png failed", zap.String("path", base+".png"), zap.Error(err))
	}

	if html, err := page.HTML(ctx); err != nil {
		s.log.Debug("snapshot: html failed", zap.String("reason", reason), zap.Error(err))
	} else if err := os.WriteFile(base+".html", []byte(html), 0o644); err != nil {
		s.log.Warn("snapshot: write html failed", zap.String("path", base+".html"), zap.Error(err))
	}

	s.log.Info("snapshot: saved", zap.String("path", base), zap.String("reason", reason))
	return true
}
