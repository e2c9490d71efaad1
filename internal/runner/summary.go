package runner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/maps-scraper/internal/model"
)

// WriteSummary writes sum as indented JSON to path. The file is replaced
// atomically so an upload step never sees a partial artifact.
func WriteSummary(path string, sum *model.RunSummary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return eris.Wrap(err, "runner: marshal summary")
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "runner: create summary dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".summary-*.json")
	if err != nil {
		return eris.Wrap(err, "runner: create temp summary")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return eris.Wrap(err, "runner: write summary")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "runner: close summary")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrap(err, "runner: chmod summary")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "runner: rename summary to %s", path)
	}
	return nil
}
