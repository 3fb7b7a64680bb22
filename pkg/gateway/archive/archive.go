// Package archive writes the transcript of each finished session to
// disk as a zstd-compressed msgpack record. Writes happen in the
// background so session teardown never waits on the filesystem; Close
// flushes whatever is still in flight.
package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/echomind-ai/voiced/pkg/gateway/live/session"
)

const maxConcurrentWrites = 4

// Record is the archived form of one session.
type Record struct {
	SessionID string    `msgpack:"session_id"`
	StartedAt time.Time `msgpack:"started_at"`
	EndedAt   time.Time `msgpack:"ended_at"`
	Lines     []Line    `msgpack:"lines"`
}

// Line is one spoken transcript line.
type Line struct {
	At      time.Time `msgpack:"at"`
	Speaker string    `msgpack:"speaker"`
	Text    string    `msgpack:"text"`
}

// Archive persists session records under one directory.
type Archive struct {
	dir    string
	logger *slog.Logger
	g      *errgroup.Group
}

var _ session.Archiver = (*Archive)(nil)

// New ensures dir exists and returns an archive writing into it.
func New(dir string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentWrites)
	return &Archive{dir: dir, logger: logger, g: g}, nil
}

// ArchiveSession queues the transcript for a background write. Write
// failures are logged, not returned: by the time a session closes
// there is nobody left to retry.
func (a *Archive) ArchiveSession(sessionID string, startedAt, endedAt time.Time, lines []session.TranscriptLine) error {
	if len(lines) == 0 {
		return nil
	}
	rec := Record{
		SessionID: sessionID,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Lines:     make([]Line, 0, len(lines)),
	}
	for _, ln := range lines {
		rec.Lines = append(rec.Lines, Line{At: ln.At, Speaker: ln.Speaker, Text: ln.Text})
	}
	a.g.Go(func() error {
		if err := a.write(rec); err != nil {
			a.logger.Warn("write session archive", "session_id", rec.SessionID, "err", err)
		}
		return nil
	})
	return nil
}

// Close waits for queued writes to finish.
func (a *Archive) Close() error {
	return a.g.Wait()
}

// write lands one record atomically: temp file, compress, rename.
func (a *Archive) write(rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	name := fmt.Sprintf("%s-%d.msgpack.zst", sanitizeName(rec.SessionID), rec.EndedAt.Unix())
	tmp, err := os.CreateTemp(a.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(a.dir, name))
}

// ReadRecord loads one archived session file.
func ReadRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return Record{}, fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return Record{}, fmt.Errorf("decompress record: %w", err)
	}
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// sanitizeName keeps session IDs filesystem-safe.
func sanitizeName(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "session"
	}
	return string(out)
}
