// Package history persists geometry sessions and the images they traced.
package history

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/celergeo/internal/geo"
	"github.com/mattjoyce/celergeo/internal/model"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

var (
	ErrNotFound       = errors.New("trace not found")
	ErrDigestMismatch = errors.New("stored image does not match its digest")
	ErrNoGeometry     = errors.New("trace output does not name its geometry engine")
)

// SessionRecord is one row of session_log.
type SessionRecord struct {
	ID           string
	GeometryFile string
	Setup        json.RawMessage
	StartedAt    time.Time
	ClosedAt     *time.Time
	ExitCode     *int
	FinalOutput  *string
}

// TraceRecord is one row of trace_log without the image bytes.
type TraceRecord struct {
	ID          string               `json:"id"`
	SessionID   string               `json:"session_id"`
	Geometry    model.GeometryEngine `json:"geometry"`
	Memspace    string               `json:"memspace,omitempty"`
	Width       int                  `json:"width"`
	Height      int                  `json:"height"`
	PixelWidth  float64              `json:"pixel_width"`
	Units       model.UnitSystem     `json:"units"`
	SizeofInt   int                  `json:"sizeof_int"`
	Output      json.RawMessage      `json:"output"`
	ImageDigest string               `json:"image_digest"`
	Duration    time.Duration        `json:"duration"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Store reads and writes trace history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Digest returns the BLAKE3 digest of an image buffer as "blake3:<hex>".
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(sum[:])
}

// StartSession records a newly started session.
func (s *Store) StartSession(ctx context.Context, id string, setup model.ModelSetup) error {
	setupJSON, err := json.Marshal(setup)
	if err != nil {
		return fmt.Errorf("marshal setup: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO session_log(id, geometry_file, setup, started_at)
VALUES(?, ?, ?, ?);
`, id, setup.GeometryFile, string(setupJSON), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession records how a session finished. final is the engine's last
// report, stored as JSON.
func (s *Store) EndSession(ctx context.Context, id string, exitCode int, final any) error {
	var finalS *string
	if final != nil {
		data, err := json.Marshal(final)
		if err != nil {
			return fmt.Errorf("marshal final output: %w", err)
		}
		str := string(data)
		finalS = &str
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE session_log SET closed_at = ?, exit_code = ?, final_output = ?
WHERE id = ?;
`, s.now().UTC().Format(time.RFC3339Nano), exitCode, finalS, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

// GetSession returns one session row.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, geometry_file, setup, started_at, closed_at, exit_code, final_output
FROM session_log WHERE id = ?;
`, id)

	var (
		rec                SessionRecord
		setup, startedAt   string
		closedAt, finalOut sql.NullString
		exitCode           sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.GeometryFile, &setup, &startedAt, &closedAt, &exitCode, &finalOut); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	rec.Setup = json.RawMessage(setup)
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse session_log.started_at: %w", err)
	}
	rec.StartedAt = t
	if closedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse session_log.closed_at: %w", err)
		}
		rec.ClosedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if finalOut.Valid {
		rec.FinalOutput = &finalOut.String
	}
	return &rec, nil
}

// Record stores a trace result under sessionID.
func (s *Store) Record(ctx context.Context, sessionID string, result *geo.TraceResult) (*TraceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("trace result is nil")
	}

	out := result.Output
	output, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal trace output: %w", err)
	}

	rec := &TraceRecord{
		ID:          result.ID,
		SessionID:   sessionID,
		Width:       result.Image.Width,
		Height:      result.Image.Height,
		PixelWidth:  out.Image.PixelWidth,
		Units:       out.Image.Units,
		SizeofInt:   result.Image.SizeofInt,
		Output:      output,
		ImageDigest: Digest(result.Image.Data),
		Duration:    result.Duration,
		CreatedAt:   s.now().UTC(),
	}
	if out.Trace.Geometry == nil {
		return nil, fmt.Errorf("record trace %s: %w", result.ID, ErrNoGeometry)
	}
	rec.Geometry = *out.Trace.Geometry
	if out.Trace.Memspace != nil {
		rec.Memspace = string(*out.Trace.Memspace)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO trace_log(id, session_id, geometry, memspace, width, height, pixel_width, units, sizeof_int, output, image_digest, image, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, rec.ID, rec.SessionID, string(rec.Geometry), nullable(rec.Memspace), rec.Width, rec.Height, rec.PixelWidth,
		string(rec.Units), rec.SizeofInt, string(output), rec.ImageDigest, result.Image.Data,
		rec.Duration.Milliseconds(), rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert trace: %w", err)
	}
	return rec, nil
}

const traceColumns = `id, session_id, geometry, memspace, width, height, pixel_width, units, sizeof_int, output, image_digest, duration_ms, created_at`

// Get returns one trace by ID.
func (s *Store) Get(ctx context.Context, id string) (*TraceRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("trace id is empty")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+traceColumns+` FROM trace_log WHERE id = ?;`, id)
	rec, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trace %q: %w", id, ErrNotFound)
	}
	return rec, err
}

// List returns the most recent traces first.
func (s *Store) List(ctx context.Context, limit int) ([]*TraceRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+traceColumns+` FROM trace_log ORDER BY created_at DESC, id LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var out []*TraceRecord
	for rows.Next() {
		rec, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace rows: %w", err)
	}
	return out, nil
}

// Image returns the stored image bytes after checking them against the
// recorded digest.
func (s *Store) Image(ctx context.Context, id string) ([]byte, *TraceRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	var data []byte
	if err := s.db.QueryRowContext(ctx, `SELECT image FROM trace_log WHERE id = ?;`, id).Scan(&data); err != nil {
		return nil, nil, fmt.Errorf("read image for trace %q: %w", id, err)
	}
	if Digest(data) != rec.ImageDigest {
		return nil, nil, fmt.Errorf("trace %q: %w", id, ErrDigestMismatch)
	}
	return data, rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*TraceRecord, error) {
	var (
		rec        TraceRecord
		geometry   string
		memspace   sql.NullString
		units      string
		output     string
		durationMS int64
		createdAtS string
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &geometry, &memspace, &rec.Width, &rec.Height, &rec.PixelWidth,
		&units, &rec.SizeofInt, &output, &rec.ImageDigest, &durationMS, &createdAtS); err != nil {
		return nil, err
	}
	rec.Geometry = model.GeometryEngine(geometry)
	rec.Memspace = memspace.String
	rec.Units = model.UnitSystem(units)
	rec.Output = json.RawMessage(output)
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	createdAt, err := time.Parse(time.RFC3339Nano, createdAtS)
	if err != nil {
		return nil, fmt.Errorf("parse trace_log.created_at: %w", err)
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
