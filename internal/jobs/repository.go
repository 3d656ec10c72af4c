package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/personaliz/personaliz-server/internal/messaging"
	"github.com/personaliz/personaliz-server/internal/outcome"
)

type Repository interface {
	CreateVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, limit int) ([]*Video, error)
	ListPendingVideos(ctx context.Context, limit int) ([]*Video, error)
	ClaimVideo(ctx context.Context, id string) (bool, error)
	UpdateVideo(ctx context.Context, v *Video) error
	DeleteVideo(ctx context.Context, id string) (bool, error)

	messaging.Store

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const videoColumns = `id, name, city, phone, template_id, voice_id, custom_message, status, script,
	output_path, video_url, thumbnail_url, file_size, duration, degraded, message_id, error,
	created_at, updated_at, completed_at`

func (r *SQLiteRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, name, city, phone, template_id, voice_id, custom_message, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Name, v.City, nullString(v.Phone), v.TemplateID, nullString(v.VoiceID), nullString(v.CustomMessage),
		v.Status, formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanVideos(rows)
}

// ListPendingVideos returns the oldest pending videos first.
func (r *SQLiteRepository) ListPendingVideos(ctx context.Context, limit int) ([]*Video, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?
	`, VideoStatusPending, limit)
	if err != nil {
		return nil, err
	}
	return scanVideos(rows)
}

// ClaimVideo moves a pending video to processing. It reports false when
// another worker got there first.
func (r *SQLiteRepository) ClaimVideo(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, VideoStatusProcessing, formatTime(time.Now()), id, VideoStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateVideo(ctx context.Context, v *Video) error {
	degraded, err := marshalNotes(v.Degraded)
	if err != nil {
		return err
	}
	var completedAt sql.NullString
	if v.CompletedAt != nil {
		completedAt = nullString(formatTime(*v.CompletedAt))
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE videos SET status = ?, script = ?, output_path = ?, video_url = ?, thumbnail_url = ?,
			file_size = ?, duration = ?, degraded = ?, message_id = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ?
	`, v.Status, nullString(v.Script), nullString(v.OutputPath), nullString(v.VideoURL), nullString(v.ThumbnailURL),
		v.FileSize, v.Duration, degraded, nullString(v.MessageID), nullString(v.Error), formatTime(v.UpdatedAt), completedAt,
		v.ID)
	return err
}

// DeleteVideo removes the row; messages keep their history with video_id
// cleared. It reports false when no row matched.
func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (*Video, error) {
	var v Video
	var phone, voiceID, custom, script, outputPath, videoURL, thumbURL, degraded, messageID, errMsg, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&v.ID, &v.Name, &v.City, &phone, &v.TemplateID, &voiceID, &custom, &v.Status, &script,
		&outputPath, &videoURL, &thumbURL, &v.FileSize, &v.Duration, &degraded, &messageID, &errMsg,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	v.Phone = phone.String
	v.VoiceID = voiceID.String
	v.CustomMessage = custom.String
	v.Script = script.String
	v.OutputPath = outputPath.String
	v.VideoURL = videoURL.String
	v.ThumbnailURL = thumbURL.String
	v.MessageID = messageID.String
	v.Error = errMsg.String
	v.CreatedAt = parseTime(createdAt)
	v.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		v.CompletedAt = &t
	}
	if degraded.Valid && degraded.String != "" {
		if err := json.Unmarshal([]byte(degraded.String), &v.Degraded); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func scanVideos(rows *sql.Rows) ([]*Video, error) {
	defer rows.Close()
	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLiteRepository) CreateMessage(ctx context.Context, m *messaging.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, video_id, recipient, provider, status, body, media_url, error_code, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, nullString(m.VideoID), m.To, m.Provider, m.Status, nullString(m.Body), nullString(m.MediaURL),
		nullString(m.ErrorCode), nullString(m.ErrorMessage), formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	return err
}

const messageColumns = `id, video_id, recipient, provider, status, body, media_url, error_code, error_message, created_at, updated_at`

func (r *SQLiteRepository) GetMessage(ctx context.Context, id string) (*messaging.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *SQLiteRepository) UpdateMessageStatus(ctx context.Context, id, status, errorCode, errorMessage string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, error_code = COALESCE(?, error_code), error_message = COALESCE(?, error_message), updated_at = ?
		WHERE id = ?
	`, status, nullString(errorCode), nullString(errorMessage), formatTime(time.Now()), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) ListMessagesSince(ctx context.Context, since time.Time) ([]*messaging.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE created_at >= ? ORDER BY created_at DESC
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*messaging.Record
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row scanner) (*messaging.Record, error) {
	var m messaging.Record
	var videoID, body, mediaURL, errCode, errMsg sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &videoID, &m.To, &m.Provider, &m.Status, &body, &mediaURL, &errCode, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.VideoID = videoID.String
	m.Body = body.String
	m.MediaURL = mediaURL.String
	m.ErrorCode = errCode.String
	m.ErrorMessage = errMsg.String
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func marshalNotes(notes []outcome.Note) (sql.NullString, error) {
	if len(notes) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(notes)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Times are stored as RFC3339 in UTC so lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
