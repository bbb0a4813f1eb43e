// Package archive writes purged audit events to compressed archive files
// so the retention purge does not silently destroy history.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	agenterrors "github.com/captionhq/storage-quota/internal/errors"
	"github.com/captionhq/storage-quota/pkg/model"
)

// Archiver appends events as zstd-compressed JSON lines to date-stamped
// files. Each batch is written as an independent zstd frame; frames
// concatenate, so appending to an existing file keeps it decodable.
type Archiver struct {
	dir       string
	clock     agenterrors.Clock
	collector *agenterrors.ErrorCollector
}

// New creates an Archiver writing under dir.
func New(dir string, clock agenterrors.Clock, collector *agenterrors.ErrorCollector) *Archiver {
	return &Archiver{dir: dir, clock: clock, collector: collector}
}

// Archive appends the events to today's archive file. A nil or empty
// batch is a no-op.
func (a *Archiver) Archive(events []model.WarningEvent) error {
	if len(events) == 0 {
		return nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return a.fail(fmt.Sprintf("cannot create archive directory %s", a.dir), err)
	}

	name := fmt.Sprintf("events-%s.jsonl.zst", a.clock.Now().UTC().Format("2006-01-02"))
	path := filepath.Join(a.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return a.fail(fmt.Sprintf("cannot open archive file %s", path), err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return a.fail("cannot create zstd writer", err)
	}

	written := 0
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("skipping unmarshalable event in archive batch", "type", ev.Type, "error", err)
			continue
		}
		if _, err := enc.Write(append(line, '\n')); err != nil {
			enc.Close()
			return a.fail(fmt.Sprintf("write to archive file %s", path), err)
		}
		written++
	}

	if err := enc.Close(); err != nil {
		return a.fail(fmt.Sprintf("finalize archive frame in %s", path), err)
	}

	slog.Debug("archived purged events", "file", path, "count", written)
	return nil
}

func (a *Archiver) fail(message string, cause error) error {
	err := agenterrors.New(agenterrors.ErrArchiveFailed, "archive", message+": "+cause.Error(), cause)
	if a.collector != nil {
		a.collector.Report(*err)
	}
	return err
}
