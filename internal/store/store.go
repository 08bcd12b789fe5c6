// Package store implements the RelationalStore and DenseIndex components
// against a single Postgres database with the pgvector extension: the
// relational tables are the source of truth for chunk text and structured
// curriculum facts, and the chunks table doubles as the vector collection.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seanblong/curricache/pkg/models"
)

// Store implements both RelationalStore and DenseIndex over a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// RelationalStore is the parameterized read/write surface over curriculum
// tables and chunk rows (spec.md §4/§6).
type RelationalStore interface {
	UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error
	GetChunk(ctx context.Context, chunkID string) (models.Chunk, bool, error)
	GetChunksByIDs(ctx context.Context, chunkIDs []string) (map[string]models.Chunk, error)
	ListAllChunks(ctx context.Context) ([]models.Chunk, error)

	ListCourses(ctx context.Context) ([]Course, error)
	ListTopics(ctx context.Context, courseID string) ([]Topic, error)
	CountClassesForTopic(ctx context.Context, topicCode string) (int, error)
	LearnedAtRangeForTopic(ctx context.Context, topicCode string) (earliest, latest time.Time, found bool, err error)
	CourseScheduleByTitle(ctx context.Context, title string) (CourseSchedule, bool, error)
	CourseScheduleByCode(ctx context.Context, code string) (CourseSchedule, bool, error)
	ResolveCourseForClass(ctx context.Context, classChunkID string) (models.Chunk, bool, error)
}

// Course, Topic and CourseSchedule mirror the minimal relational schema of
// spec.md §6.
type Course struct {
	ID          string
	Code        string
	Title       string
	Description string
}

type Topic struct {
	ID       string
	CourseID string
	Code     string
	Title    string
	Position int
}

type CourseSchedule struct {
	CourseCode string
	Earliest   time.Time
	Latest     time.Time
}

// New opens a connection pool to the given Postgres DSN.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate creates the chunks table (vector column sized dim), the HNSW
// index used by DenseIndex.search, and the curriculum relational tables.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id    TEXT PRIMARY KEY,
  chunk_type  TEXT NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  text        TEXT NOT NULL DEFAULT '',
  metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
  vec         vector(%[1]d),
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_vec_hnsw_idx
  ON chunks USING hnsw (vec vector_cosine_ops);

CREATE INDEX IF NOT EXISTS chunks_type_idx ON chunks (chunk_type);

CREATE TABLE IF NOT EXISTS courses (
  id          TEXT PRIMARY KEY,
  code        TEXT NOT NULL UNIQUE,
  title       TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS topics (
  id        TEXT PRIMARY KEY,
  course_id TEXT NOT NULL REFERENCES courses(id),
  code      TEXT NOT NULL,
  title     TEXT NOT NULL,
  position  INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS topics_course_idx ON topics (course_id);

CREATE TABLE IF NOT EXISTS classes (
  id           TEXT PRIMARY KEY,
  topic_id     TEXT NOT NULL REFERENCES topics(id),
  title        TEXT NOT NULL,
  content      TEXT NOT NULL DEFAULT '',
  class_number INT NOT NULL DEFAULT 0,
  learned_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS classes_topic_idx ON classes (topic_id);

CREATE TABLE IF NOT EXISTS assignments (
  id       TEXT PRIMARY KEY,
  title    TEXT NOT NULL,
  due_date TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS assignment_topics (
  assignment_id TEXT NOT NULL REFERENCES assignments(id),
  topic_id      TEXT NOT NULL REFERENCES topics(id),
  PRIMARY KEY (assignment_id, topic_id)
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// UpsertChunk writes a chunk row and its vector, idempotent on chunk_id.
// The dense index's point id is derived from chunk_id on lookup
// (internal/idutil.PointID) and is not itself stored as a column;
// chunk_id is the natural key the relational side needs.
func (s *Store) UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error {
	var v any
	if vec != nil {
		v = vecToPG(vec)
	}
	const q = `
INSERT INTO chunks (chunk_id, chunk_type, title, text, metadata, vec, created_at)
VALUES ($1,$2,$3,$4,$5,$6, COALESCE($7, now()))
ON CONFLICT (chunk_id) DO UPDATE SET
  chunk_type = EXCLUDED.chunk_type,
  title      = EXCLUDED.title,
  text       = EXCLUDED.text,
  metadata   = EXCLUDED.metadata,
  vec        = COALESCE(EXCLUDED.vec, chunks.vec)`
	var createdAt any
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt
	}
	_, err := s.pool.Exec(ctx, q, c.ChunkID, string(c.ChunkType), c.Title, c.Text, metaJSON(c.Metadata), v, createdAt)
	return err
}

func (s *Store) GetChunk(ctx context.Context, chunkID string) (models.Chunk, bool, error) {
	const q = `SELECT chunk_id, chunk_type, title, text, metadata, created_at FROM chunks WHERE chunk_id = $1`
	row := s.pool.QueryRow(ctx, q, chunkID)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, false, nil
	}
	if err != nil {
		return models.Chunk{}, false, err
	}
	return c, true, nil
}

func (s *Store) GetChunksByIDs(ctx context.Context, chunkIDs []string) (map[string]models.Chunk, error) {
	out := map[string]models.Chunk{}
	if len(chunkIDs) == 0 {
		return out, nil
	}
	const q = `SELECT chunk_id, chunk_type, title, text, metadata, created_at FROM chunks WHERE chunk_id = ANY($1)`
	rows, err := s.pool.Query(ctx, q, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}

func (s *Store) ListAllChunks(ctx context.Context) ([]models.Chunk, error) {
	const q = `SELECT chunk_id, chunk_type, title, text, metadata, created_at FROM chunks ORDER BY chunk_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code, title, description FROM courses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListTopics(ctx context.Context, courseID string) ([]Topic, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, course_id, code, title, position FROM topics WHERE ($1 = '' OR course_id = $1) ORDER BY position`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.CourseID, &t.Code, &t.Title, &t.Position); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CountClassesForTopic(ctx context.Context, topicCode string) (int, error) {
	const q = `
SELECT count(*) FROM classes c
JOIN topics t ON t.id = c.topic_id
WHERE lower(t.code) = lower($1)`
	var n int
	err := s.pool.QueryRow(ctx, q, topicCode).Scan(&n)
	return n, err
}

func (s *Store) LearnedAtRangeForTopic(ctx context.Context, topicCode string) (time.Time, time.Time, bool, error) {
	const q = `
SELECT min(c.learned_at), max(c.learned_at) FROM classes c
JOIN topics t ON t.id = c.topic_id
WHERE lower(t.code) = lower($1) AND c.learned_at IS NOT NULL`
	var earliest, latest *time.Time
	err := s.pool.QueryRow(ctx, q, topicCode).Scan(&earliest, &latest)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if earliest == nil || latest == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return *earliest, *latest, true, nil
}

func (s *Store) CourseScheduleByTitle(ctx context.Context, title string) (CourseSchedule, bool, error) {
	const q = `
SELECT co.code, min(cl.learned_at), max(cl.learned_at)
FROM courses co
JOIN topics t ON t.course_id = co.id
JOIN classes cl ON cl.topic_id = t.id
WHERE lower(co.title) = lower($1) AND cl.learned_at IS NOT NULL
GROUP BY co.code`
	return s.scheduleQuery(ctx, q, title)
}

func (s *Store) CourseScheduleByCode(ctx context.Context, code string) (CourseSchedule, bool, error) {
	const q = `
SELECT co.code, min(cl.learned_at), max(cl.learned_at)
FROM courses co
JOIN topics t ON t.course_id = co.id
JOIN classes cl ON cl.topic_id = t.id
WHERE lower(co.code) = lower($1) AND cl.learned_at IS NOT NULL
GROUP BY co.code`
	return s.scheduleQuery(ctx, q, code)
}

func (s *Store) scheduleQuery(ctx context.Context, q, arg string) (CourseSchedule, bool, error) {
	var sched CourseSchedule
	var earliest, latest *time.Time
	err := s.pool.QueryRow(ctx, q, arg).Scan(&sched.CourseCode, &earliest, &latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return CourseSchedule{}, false, nil
	}
	if err != nil {
		return CourseSchedule{}, false, err
	}
	if earliest != nil {
		sched.Earliest = *earliest
	}
	if latest != nil {
		sched.Latest = *latest
	}
	return sched, true, nil
}

// ResolveCourseForClass joins class -> topic -> course rows to find the
// owning course chunk; the gateway calls it whenever the active entity is a
// class chunk. Chunk metadata keys are not read.
func (s *Store) ResolveCourseForClass(ctx context.Context, classChunkID string) (models.Chunk, bool, error) {
	const q = `
SELECT co.id FROM classes cl
JOIN topics t ON t.id = cl.topic_id
JOIN courses co ON co.id = t.course_id
WHERE cl.id = $1`
	var courseID string
	err := s.pool.QueryRow(ctx, q, classChunkID).Scan(&courseID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Chunk{}, false, nil
	}
	if err != nil {
		return models.Chunk{}, false, err
	}
	return s.GetChunk(ctx, courseID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(r rowScanner) (models.Chunk, error) {
	var c models.Chunk
	var chunkType, metaRaw string
	if err := r.Scan(&c.ChunkID, &chunkType, &c.Title, &c.Text, &metaRaw, &c.CreatedAt); err != nil {
		return models.Chunk{}, err
	}
	c.ChunkType = models.ChunkType(chunkType)
	c.Metadata = parseMeta(metaRaw)
	return c, nil
}

var _ RelationalStore = (*Store)(nil)
