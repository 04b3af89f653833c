package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"weave/internal/chat"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 执行器 goroutine 与请求并发写入 / executor goroutines write concurrently with requests
	db.SetMaxOpenConns(1)

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                  TEXT PRIMARY KEY,
		kind                TEXT NOT NULL,
		title               TEXT NOT NULL DEFAULT '',
		folder_id           TEXT NOT NULL DEFAULT '',
		model               TEXT NOT NULL DEFAULT '',
		instruction         TEXT NOT NULL DEFAULT '',
		recommended_prompts TEXT NOT NULL DEFAULT '[]',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		msg_id      TEXT NOT NULL,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT 'text',
		media_url   TEXT NOT NULL DEFAULT '',
		failed      INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS image_records (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		prompt     TEXT NOT NULL DEFAULT '',
		image_url  TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		task_id           TEXT PRIMARY KEY,
		job_id            TEXT NOT NULL DEFAULT '',
		session_id        TEXT NOT NULL,
		kind              TEXT NOT NULL,
		status            TEXT NOT NULL,
		prompt            TEXT NOT NULL DEFAULT '',
		model             TEXT NOT NULL DEFAULT '',
		aspect_ratio      TEXT NOT NULL DEFAULT '',
		instruction       TEXT NOT NULL DEFAULT '',
		error             TEXT NOT NULL DEFAULT '',
		result_message_id TEXT NOT NULL DEFAULT '',
		result_image_id   TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS folders (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		type       TEXT NOT NULL DEFAULT 'plain',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_records_session ON image_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_folder ON sessions(folder_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(sess chat.Session) error {
	if strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("session id is empty")
	}
	kind, err := sess.Kind.MarshalText()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO sessions (id, kind, title, folder_id, model, instruction, recommended_prompts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(kind), sess.Title, sess.FolderID, sess.Model, sess.Instruction,
		encodeStrings(sess.RecommendedPrompts), formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := insertMessages(tx, sess.ID, 0, sess.Messages); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveSession 更新会话元数据（不含消息）
// SaveSession updates session metadata; messages are left untouched
func (s *SQLiteStore) SaveSession(sess chat.Session) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET title=?, folder_id=?, model=?, instruction=?, recommended_prompts=?, updated_at=?
		WHERE id=?`,
		sess.Title, sess.FolderID, sess.Model, sess.Instruction,
		encodeStrings(sess.RecommendedPrompts), formatTime(time.Now().UTC()), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectRow(res, "session", sess.ID)
}

const sessionColumns = `id, kind, title, folder_id, model, instruction, recommended_prompts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (chat.Session, error) {
	var (
		sess                        chat.Session
		kind, prompts, created, upd string
	)
	if err := row.Scan(&sess.ID, &kind, &sess.Title, &sess.FolderID, &sess.Model, &sess.Instruction,
		&prompts, &created, &upd); err != nil {
		return chat.Session{}, err
	}
	k, err := chat.ParseKind(kind)
	if err != nil {
		return chat.Session{}, fmt.Errorf("session %s: %w", sess.ID, err)
	}
	sess.Kind = k
	sess.RecommendedPrompts = decodeStrings(prompts)
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(upd)
	return sess, nil
}

// LoadSession 返回完整会话（含消息与图片记录）
// LoadSession returns the fully hydrated session
func (s *SQLiteStore) LoadSession(id string) (chat.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return chat.Session{}, fmt.Errorf("session id is empty")
	}
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Session{}, fmt.Errorf("session %s: %w", id, chat.ErrNotFound)
		}
		return chat.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Messages, err = s.loadMessages(id); err != nil {
		return chat.Session{}, err
	}
	if sess.Records, err = s.loadRecords(id); err != nil {
		return chat.Session{}, err
	}
	sess.Hydrated = true
	return sess, nil
}

// ListSessions 返回会话摘要，按更新时间倒序
// ListSessions returns session summaries, most recently updated first
func (s *SQLiteStore) ListSessions() ([]chat.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []chat.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectRow(res, "session", id)
}

// --- Message Operations ---

// SaveMessages 整体替换消息列表；流式占位消息不落盘
// SaveMessages replaces the message list; streaming placeholders are not stored
func (s *SQLiteStore) SaveMessages(sessionID string, messages []chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 清除旧消息 / Clear old messages
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}
	if err := insertMessages(tx, sessionID, 0, messages); err != nil {
		return err
	}
	if err := touch(tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessages 在末尾追加消息 / AppendMessages adds messages after the last one
func (s *SQLiteStore) AppendMessages(sessionID string, messages ...chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq)+1, 0) FROM messages WHERE session_id=?`, sessionID).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}
	if err := insertMessages(tx, sessionID, next, messages); err != nil {
		return err
	}
	if err := touch(tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessages(tx *sql.Tx, sessionID string, startSeq int, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages (msg_id, session_id, seq, role, content, type, media_url, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	seq := startSeq
	for _, msg := range messages {
		if msg.Streaming {
			continue
		}
		created := msg.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		typ := msg.Type
		if typ == "" {
			typ = chat.MessageText
		}
		if _, err := stmt.Exec(msg.ID, sessionID, seq, string(msg.Role), msg.Content, string(typ),
			msg.MediaURL, boolToInt(msg.Failed), formatTime(created)); err != nil {
			return fmt.Errorf("insert message %d: %w", seq, err)
		}
		seq++
	}
	return nil
}

func (s *SQLiteStore) loadMessages(sessionID string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT msg_id, role, content, type, media_url, failed, created_at
		FROM messages WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var (
			msg           chat.Message
			role, typ, at string
			failed        int
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &typ, &msg.MediaURL, &failed, &at); err != nil {
			continue
		}
		msg.Role = chat.Role(role)
		msg.Type = chat.MessageType(typ)
		msg.Failed = failed != 0
		msg.CreatedAt = parseTime(at)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// --- Image Records ---

func (s *SQLiteStore) AddImageRecord(sessionID string, rec chat.ImageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO image_records (id, session_id, prompt, image_url, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, sessionID, rec.Prompt, rec.ImageURL, rec.Model, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadRecords(sessionID string) ([]chat.ImageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, prompt, image_url, model, created_at
		FROM image_records WHERE session_id=? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query image records: %w", err)
	}
	defer rows.Close()

	var out []chat.ImageRecord
	for rows.Next() {
		var (
			rec chat.ImageRecord
			at  string
		)
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.ImageURL, &rec.Model, &at); err != nil {
			continue
		}
		rec.CreatedAt = parseTime(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Jobs ---

// SaveJob 插入或更新任务 / SaveJob upserts a job row
func (s *SQLiteStore) SaveJob(j JobRecord) error {
	kind, err := j.Kind.MarshalText()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	_, err = s.db.Exec(`
		INSERT INTO jobs (task_id, job_id, session_id, kind, status, prompt, model, aspect_ratio, instruction,
			error, result_message_id, result_image_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status=excluded.status, error=excluded.error,
			result_message_id=excluded.result_message_id, result_image_id=excluded.result_image_id,
			updated_at=excluded.updated_at`,
		j.TaskID, j.JobID, j.SessionID, string(kind), string(j.Status), j.Prompt, j.Model, j.AspectRatio,
		j.Instruction, j.Error, j.ResultMessageID, j.ResultImageID, formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

const jobColumns = `task_id, job_id, session_id, kind, status, prompt, model, aspect_ratio, instruction,
	error, result_message_id, result_image_id, created_at, updated_at`

func scanJob(row rowScanner) (JobRecord, error) {
	var (
		j                          JobRecord
		kind, status, created, upd string
	)
	if err := row.Scan(&j.TaskID, &j.JobID, &j.SessionID, &kind, &status, &j.Prompt, &j.Model, &j.AspectRatio,
		&j.Instruction, &j.Error, &j.ResultMessageID, &j.ResultImageID, &created, &upd); err != nil {
		return JobRecord{}, err
	}
	k, err := chat.ParseKind(kind)
	if err != nil {
		return JobRecord{}, err
	}
	j.Kind = k
	j.Status = chat.JobStatus(status)
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(upd)
	return j, nil
}

func (s *SQLiteStore) LoadJob(taskID string) (JobRecord, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE task_id=?`, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return JobRecord{}, fmt.Errorf("job %s: %w", taskID, chat.ErrNotFound)
		}
		return JobRecord{}, fmt.Errorf("load job: %w", err)
	}
	return j, nil
}

// ListJobs 按状态过滤任务；不传状态返回全部
// ListJobs filters jobs by status; no statuses means all jobs
func (s *SQLiteStore) ListJobs(statuses ...chat.JobStatus) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- Folders ---

func (s *SQLiteStore) CreateFolder(f chat.Folder) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	typ := f.Type
	if typ == "" {
		typ = chat.FolderPlain
	}
	_, err := s.db.Exec(`INSERT INTO folders (id, name, type, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.Name, string(typ), formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// ListFolders 返回文件夹及其会话 ID（按会话创建顺序）
// ListFolders returns folders with their session ids in session creation order
func (s *SQLiteStore) ListFolders() ([]chat.Folder, error) {
	rows, err := s.db.Query(`SELECT id, name, type, created_at FROM folders ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	var out []chat.Folder
	for rows.Next() {
		var (
			f       chat.Folder
			typ, at string
		)
		if err := rows.Scan(&f.ID, &f.Name, &typ, &at); err != nil {
			continue
		}
		f.Type = chat.FolderType(typ)
		f.CreatedAt = parseTime(at)
		out = append(out, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		ids, err := s.folderSessionIDs(s.db, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].SessionIDs = ids
	}
	return out, nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) folderSessionIDs(q querier, folderID string) ([]string, error) {
	rows, err := q.Query(`SELECT id FROM sessions WHERE folder_id=? ORDER BY created_at, rowid`, folderID)
	if err != nil {
		return nil, fmt.Errorf("folder sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// DeleteFolder 删除文件夹及其会话，返回被删除的会话 ID
// DeleteFolder removes a folder and its sessions, returning the removed session ids
func (s *SQLiteStore) DeleteFolder(id string) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := s.folderSessionIDs(tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE folder_id=?`, id); err != nil {
		return nil, fmt.Errorf("delete folder sessions: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM folders WHERE id=?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete folder: %w", err)
	}
	if err := expectRow(res, "folder", id); err != nil {
		return nil, err
	}
	return ids, tx.Commit()
}

// --- Helpers ---

func touch(tx *sql.Tx, sessionID string) error {
	if _, err := tx.Exec("UPDATE sessions SET updated_at=? WHERE id=?", formatTime(time.Now().UTC()), sessionID); err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, chat.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
