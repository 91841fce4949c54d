package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lineage/api/internal/validity"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const userColumns = `id, email, display_name, password_hash, role, deactivated_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var deactivated sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &deactivated, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, err
	}
	if deactivated.Valid {
		t := deactivated.Time
		user.DeactivatedAt = &t
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, strings.TrimSpace(email))
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.role, u.deactivated_at, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

const clergyColumns = `id, name, rank, church, birth_date, death_date, notes, photo_key, updated_by_name, created_at, updated_at`

func scanClergy(row interface{ Scan(...any) error }) (Clergy, error) {
	var item Clergy
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Rank,
		&item.Church,
		&item.BirthDate,
		&item.DeathDate,
		&item.Notes,
		&item.PhotoKey,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// ListClergy returns every clergy member ordered by name, with their records.
func (s *PostgresStore) ListClergy(ctx context.Context) ([]Clergy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clergyColumns+` FROM clergy ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list clergy: %w", err)
	}
	defer rows.Close()

	items := make([]Clergy, 0)
	index := map[string]int{}
	for rows.Next() {
		item, err := scanClergy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clergy: %w", err)
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clergy: %w", err)
	}
	rows.Close()

	for _, kind := range []validity.Kind{validity.KindOrdination, validity.KindConsecration} {
		records, err := s.listRecords(ctx, kind, "")
		if err != nil {
			return nil, err
		}
		for clergyID, list := range records {
			i, ok := index[clergyID]
			if !ok {
				continue
			}
			if kind == validity.KindOrdination {
				items[i].Ordinations = list
			} else {
				items[i].Consecrations = list
			}
		}
	}
	return items, nil
}

func (s *PostgresStore) GetClergy(ctx context.Context, clergyID string) (Clergy, error) {
	item, err := scanClergy(s.db.QueryRowContext(ctx, `SELECT `+clergyColumns+` FROM clergy WHERE id=$1`, clergyID))
	if err != nil {
		return Clergy{}, err
	}
	ords, cons, err := s.ClergyRecords(ctx, clergyID)
	if err != nil {
		return Clergy{}, err
	}
	item.Ordinations = ords
	item.Consecrations = cons
	return item, nil
}

// ClergyRecords returns a clergy member's own ordinations and consecrations.
func (s *PostgresStore) ClergyRecords(ctx context.Context, clergyID string) ([]SacramentRecord, []SacramentRecord, error) {
	ords, err := s.listRecords(ctx, validity.KindOrdination, clergyID)
	if err != nil {
		return nil, nil, err
	}
	cons, err := s.listRecords(ctx, validity.KindConsecration, clergyID)
	if err != nil {
		return nil, nil, err
	}
	return ords[clergyID], cons[clergyID], nil
}

func recordTable(kind validity.Kind) string {
	if kind == validity.KindConsecration {
		return "consecrations"
	}
	return "ordinations"
}

// listRecords groups records by clergy id; an empty clergyID lists all.
func (s *PostgresStore) listRecords(ctx context.Context, kind validity.Kind, clergyID string) (map[string][]SacramentRecord, error) {
	table := recordTable(kind)
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.clergy_id, COALESCE(r.bishop_id, ''), COALESCE(b.name, ''), r.event_date,
			r.validity, r.is_sub_conditione, r.is_doubtful_event, r.notes
		FROM `+table+` r
		LEFT JOIN clergy b ON b.id = r.bishop_id
		WHERE r.clergy_id=$1 OR $1=''
		ORDER BY r.clergy_id, r.position, r.id
	`, clergyID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string][]SacramentRecord{}
	for rows.Next() {
		var owner string
		var item SacramentRecord
		if err := rows.Scan(
			&item.ID,
			&owner,
			&item.BishopID,
			&item.BishopName,
			&item.Date,
			&item.Validity,
			&item.IsSubConditione,
			&item.IsDoubtfulEvent,
			&item.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out[owner] = append(out[owner], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// CreateClergy inserts a clergy member and their records in one transaction.
func (s *PostgresStore) CreateClergy(ctx context.Context, item Clergy) error {
	return s.withTx(ctx, "create clergy", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clergy (id, name, rank, church, birth_date, death_date, notes, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.Name, item.Rank, item.Church, item.BirthDate, item.DeathDate, item.Notes, item.UpdatedBy)
		if err != nil {
			return fmt.Errorf("insert clergy: %w", err)
		}
		return replaceRecords(ctx, tx, item)
	})
}

// UpdateClergy rewrites a clergy member and replaces their records.
func (s *PostgresStore) UpdateClergy(ctx context.Context, item Clergy) error {
	return s.withTx(ctx, "update clergy", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE clergy
			SET name=$2, rank=$3, church=$4, birth_date=$5, death_date=$6, notes=$7, updated_by_name=$8, updated_at=NOW()
			WHERE id=$1
		`, item.ID, item.Name, item.Rank, item.Church, item.BirthDate, item.DeathDate, item.Notes, item.UpdatedBy)
		if err != nil {
			return fmt.Errorf("update clergy: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		return replaceRecords(ctx, tx, item)
	})
}

func replaceRecords(ctx context.Context, tx *sql.Tx, item Clergy) error {
	sets := []struct {
		kind    validity.Kind
		records []SacramentRecord
	}{
		{validity.KindOrdination, item.Ordinations},
		{validity.KindConsecration, item.Consecrations},
	}
	for _, set := range sets {
		table := recordTable(set.kind)
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE clergy_id=$1`, item.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		for position, record := range set.records {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO `+table+` (clergy_id, bishop_id, event_date, validity, is_sub_conditione, is_doubtful_event, notes, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, item.ID, nilIfEmpty(record.BishopID), record.Date, record.Validity, record.IsSubConditione, record.IsDoubtfulEvent, record.Notes, position)
			if err != nil {
				return fmt.Errorf("insert %s: %w", table, err)
			}
		}
	}
	return nil
}

func (s *PostgresStore) DeleteClergy(ctx context.Context, clergyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clergy WHERE id=$1`, clergyID)
	if err != nil {
		return fmt.Errorf("delete clergy: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) SetClergyPhoto(ctx context.Context, clergyID, key string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clergy SET photo_key=$2, updated_at=NOW() WHERE id=$1`, clergyID, key)
	if err != nil {
		return fmt.Errorf("set clergy photo: %w", err)
	}
	return expectRow(res)
}

// LineageGraph returns every clergy member and every officiant link.
func (s *PostgresStore) LineageGraph(ctx context.Context) ([]ClergyRef, []LineageLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM clergy ORDER BY name, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("list lineage nodes: %w", err)
	}
	defer rows.Close()
	nodes := make([]ClergyRef, 0)
	for rows.Next() {
		var ref ClergyRef
		if err := rows.Scan(&ref.ID, &ref.Name); err != nil {
			return nil, nil, fmt.Errorf("scan lineage node: %w", err)
		}
		nodes = append(nodes, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate lineage nodes: %w", err)
	}
	rows.Close()

	linkRows, err := s.db.QueryContext(ctx, `
		SELECT bishop_id, clergy_id, 'ordination' FROM ordinations WHERE bishop_id IS NOT NULL
		UNION ALL
		SELECT bishop_id, clergy_id, 'consecration' FROM consecrations WHERE bishop_id IS NOT NULL
		ORDER BY 3 DESC, 1, 2
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("list lineage links: %w", err)
	}
	defer linkRows.Close()
	links := make([]LineageLink, 0)
	for linkRows.Next() {
		var link LineageLink
		var kind string
		if err := linkRows.Scan(&link.Source, &link.Target, &kind); err != nil {
			return nil, nil, fmt.Errorf("scan lineage link: %w", err)
		}
		link.Kind = validity.Kind(kind)
		links = append(links, link)
	}
	if err := linkRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate lineage links: %w", err)
	}
	return nodes, links, nil
}

func (s *PostgresStore) ListWikiPages(ctx context.Context) ([]WikiPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, title, '', revision, updated_by_name, updated_at
		FROM wiki_pages
		ORDER BY title
	`)
	if err != nil {
		return nil, fmt.Errorf("list wiki pages: %w", err)
	}
	defer rows.Close()

	items := make([]WikiPage, 0)
	for rows.Next() {
		var item WikiPage
		if err := rows.Scan(&item.Slug, &item.Title, &item.Body, &item.Revision, &item.UpdatedBy, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wiki page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWikiPage(ctx context.Context, slug string) (WikiPage, error) {
	var item WikiPage
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, title, body, revision, updated_by_name, updated_at
		FROM wiki_pages
		WHERE slug=$1
	`, slug).Scan(&item.Slug, &item.Title, &item.Body, &item.Revision, &item.UpdatedBy, &item.UpdatedAt)
	if err != nil {
		return WikiPage{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpsertWikiPage(ctx context.Context, page WikiPage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wiki_pages (slug, title, body, revision, updated_by_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (slug) DO UPDATE
		SET title=EXCLUDED.title, body=EXCLUDED.body, revision=EXCLUDED.revision,
			updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
	`, page.Slug, page.Title, page.Body, page.Revision, page.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert wiki page: %w", err)
	}
	return nil
}

// WikiTitles lists the titles links resolve against.
func (s *PostgresStore) WikiTitles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT title FROM wiki_pages ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list wiki titles: %w", err)
	}
	defer rows.Close()
	titles := make([]string, 0)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan wiki title: %w", err)
		}
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki titles: %w", err)
	}
	return titles, nil
}

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_name, subject_type, subject_id, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, event.EventType, event.ActorName, event.SubjectType, event.SubjectID, string(encoded))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns events with an id greater than afterID, oldest first.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, afterID int64, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, actor_name, subject_type, subject_id, payload, created_at
		FROM audit_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEvent, 0)
	for rows.Next() {
		var item AuditEvent
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.EventType, &item.ActorName, &item.SubjectType, &item.SubjectID, &payloadRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return items, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
