package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const elementColumns = `id, slide_id, kind, x, y, width, height, content, style, z_index, created_at, updated_at`

const participantColumns = `id, presentation_id, display_name, connection_id, role, is_active, joined_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanElement(row rowScanner) (Element, error) {
	var e Element
	err := row.Scan(&e.ID, &e.PageID, &e.Kind, &e.X, &e.Y, &e.Width, &e.Height, &e.Content, &e.Style, &e.Z, &e.CreatedAt, &e.UpdatedAt)
	if e.Content == nil {
		e.Content = Payload{}
	}
	if e.Style == nil {
		e.Style = Payload{}
	}
	return e, err
}

func scanParticipant(row rowScanner) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.DocumentID, &p.DisplayName, &p.ConnectionID, &p.Role, &p.Active, &p.JoinedAt)
	return p, err
}

func scanPage(row rowScanner) (Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.DocumentID, &p.Position, &p.Background, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// wrap turns driver errors into store sentinels where one applies.
func wrap(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// lockDocument serializes structural page changes within one document.
func lockDocument(ctx context.Context, tx *sql.Tx, documentID string) error {
	var id string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM presentations WHERE id=$1 FOR UPDATE`, documentID).Scan(&id); err != nil {
		return wrap("lock presentation", err)
	}
	return nil
}

// Documents

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.owner_name, p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM slides s WHERE s.presentation_id = p.id),
			(SELECT COUNT(*) FROM presentation_participants pp WHERE pp.presentation_id = p.id AND pp.is_active)
		FROM presentations p
		ORDER BY p.updated_at DESC, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list presentations: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.Owner, &d.CreatedAt, &d.UpdatedAt, &d.PageCount, &d.ActiveParticipants); err != nil {
			return nil, fmt.Errorf("scan presentation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_name, created_at, updated_at FROM presentations WHERE id=$1
	`, id).Scan(&d.ID, &d.Title, &d.Owner, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, wrap("get presentation", err)
	}
	return d, nil
}

// CreateDocument inserts the document, its first page and the owner's
// participant row in one transaction.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, first Page) (Document, error) {
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO presentations (id, title, owner_name)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at
		`, doc.ID, doc.Title, doc.Owner).Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return fmt.Errorf("insert presentation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO slides (id, presentation_id, position, background)
			VALUES ($1, $2, 0, $3)
		`, first.ID, doc.ID, first.Background); err != nil {
			return fmt.Errorf("insert first slide: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO presentation_participants (presentation_id, display_name, role, is_active)
			VALUES ($1, $2, 'owner', FALSE)
		`, doc.ID, doc.Owner); err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) UpdateDocumentTitle(ctx context.Context, id, title string, at time.Time) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		UPDATE presentations SET title=$2, updated_at=GREATEST(updated_at, $3)
		WHERE id=$1
		RETURNING id, title, owner_name, created_at, updated_at
	`, id, title, at).Scan(&d.ID, &d.Title, &d.Owner, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Document{}, wrap("update presentation title", err)
	}
	return d, nil
}

// TouchDocument advances updated_at. It never moves the timestamp backwards.
func (s *PostgresStore) TouchDocument(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE presentations SET updated_at=GREATEST(updated_at, $2) WHERE id=$1
	`, id, at); err != nil {
		return fmt.Errorf("touch presentation: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presentations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete presentation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete presentation: %w", ErrNotFound)
	}
	return nil
}

// Pages

func (s *PostgresStore) ListPages(ctx context.Context, documentID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, presentation_id, position, background, created_at, updated_at
		FROM slides WHERE presentation_id=$1
		ORDER BY position, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list slides: %w", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slide: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPage(ctx context.Context, id string) (Page, error) {
	p, err := scanPage(s.db.QueryRowContext(ctx, `
		SELECT id, presentation_id, position, background, created_at, updated_at
		FROM slides WHERE id=$1
	`, id))
	if err != nil {
		return Page{}, wrap("get slide", err)
	}
	return p, nil
}

// InsertPage places page at page.Position, shifting later pages down. A
// negative position appends after the last page.
func (s *PostgresStore) InsertPage(ctx context.Context, page Page) (Page, error) {
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, page.DocumentID); err != nil {
			return err
		}
		var next int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM slides WHERE presentation_id=$1
		`, page.DocumentID).Scan(&next); err != nil {
			return fmt.Errorf("next slide position: %w", err)
		}
		if page.Position < 0 || page.Position > next {
			page.Position = next
		}
		if page.Position < next {
			if _, err := tx.ExecContext(ctx, `
				UPDATE slides SET position = position + 1 WHERE presentation_id=$1 AND position >= $2
			`, page.DocumentID, page.Position); err != nil {
				return fmt.Errorf("shift slides: %w", err)
			}
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO slides (id, presentation_id, position, background)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`, page.ID, page.DocumentID, page.Position, page.Background).Scan(&page.CreatedAt, &page.UpdatedAt)
	})
	if err != nil {
		return Page{}, wrap("insert slide", err)
	}
	return page, nil
}

// DeletePage removes the page and its elements. The last page of a document
// cannot be deleted.
func (s *PostgresStore) DeletePage(ctx context.Context, id string) (Page, error) {
	var deleted Page
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		page, err := scanPage(tx.QueryRowContext(ctx, `
			SELECT id, presentation_id, position, background, created_at, updated_at
			FROM slides WHERE id=$1
		`, id))
		if err != nil {
			return wrap("get slide", err)
		}
		if err := lockDocument(ctx, tx, page.DocumentID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM slides WHERE presentation_id=$1`, page.DocumentID).Scan(&count); err != nil {
			return fmt.Errorf("count slides: %w", err)
		}
		if count <= 1 {
			return ErrLastPage
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM slides WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete slide: %w", err)
		}
		deleted = page
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return deleted, nil
}

// ReorderPages gives the listed pages positions 0..k-1 in the given order and
// keeps the remaining pages after them in their current relative order.
func (s *PostgresStore) ReorderPages(ctx context.Context, documentID string, order []string) ([]Page, error) {
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockDocument(ctx, tx, documentID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM slides WHERE presentation_id=$1 ORDER BY position, id`, documentID)
		if err != nil {
			return fmt.Errorf("list slides: %w", err)
		}
		var current []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan slide: %w", err)
			}
			current = append(current, id)
		}
		rows.Close()

		final, err := MergeOrder(current, order)
		if err != nil {
			return err
		}
		for pos, id := range final {
			if _, err := tx.ExecContext(ctx, `UPDATE slides SET position=$2, updated_at=NOW() WHERE id=$1`, id, pos); err != nil {
				return fmt.Errorf("set slide position: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListPages(ctx, documentID)
}

// DuplicatePage copies a page and its elements directly after the source.
// elementID maps each source element id to the id of its copy.
func (s *PostgresStore) DuplicatePage(ctx context.Context, pageID, newPageID string, elementID func(string) string) (PageWithElements, error) {
	var out PageWithElements
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		src, err := scanPage(tx.QueryRowContext(ctx, `
			SELECT id, presentation_id, position, background, created_at, updated_at
			FROM slides WHERE id=$1
		`, pageID))
		if err != nil {
			return wrap("get slide", err)
		}
		if err := lockDocument(ctx, tx, src.DocumentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE slides SET position = position + 1 WHERE presentation_id=$1 AND position > $2
		`, src.DocumentID, src.Position); err != nil {
			return fmt.Errorf("shift slides: %w", err)
		}
		out.Page = Page{ID: newPageID, DocumentID: src.DocumentID, Position: src.Position + 1, Background: src.Background}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO slides (id, presentation_id, position, background)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`, out.ID, out.DocumentID, out.Position, out.Background).Scan(&out.CreatedAt, &out.UpdatedAt); err != nil {
			return fmt.Errorf("insert slide copy: %w", err)
		}

		elements, err := listElementsTx(ctx, tx, pageID)
		if err != nil {
			return err
		}
		for _, e := range elements {
			e.ID = elementID(e.ID)
			e.PageID = out.ID
			inserted, err := insertElementTx(ctx, tx, e)
			if err != nil {
				return err
			}
			out.Elements = append(out.Elements, inserted)
		}
		return nil
	})
	if err != nil {
		return PageWithElements{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListPagesWithElements(ctx context.Context, documentID string) ([]PageWithElements, error) {
	pages, err := s.ListPages(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.slide_id, e.kind, e.x, e.y, e.width, e.height, e.content, e.style, e.z_index, e.created_at, e.updated_at
		FROM slide_elements e
		JOIN slides s ON s.id = e.slide_id
		WHERE s.presentation_id=$1
		ORDER BY e.z_index, e.id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list presentation elements: %w", err)
	}
	defer rows.Close()

	byPage := map[string][]Element{}
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		byPage[e.PageID] = append(byPage[e.PageID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]PageWithElements, 0, len(pages))
	for _, p := range pages {
		elements := byPage[p.ID]
		if elements == nil {
			elements = []Element{}
		}
		out = append(out, PageWithElements{Page: p, Elements: elements})
	}
	return out, nil
}

// Elements

func (s *PostgresStore) ListElements(ctx context.Context, pageID string) ([]Element, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+elementColumns+` FROM slide_elements WHERE slide_id=$1 ORDER BY z_index, id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()
	return collectElements(rows)
}

func (s *PostgresStore) GetElement(ctx context.Context, id string) (Element, error) {
	e, err := scanElement(s.db.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM slide_elements WHERE id=$1`, id))
	if err != nil {
		return Element{}, wrap("get element", err)
	}
	return e, nil
}

func (s *PostgresStore) InsertElement(ctx context.Context, e Element) (Element, error) {
	return insertElementTx(ctx, s.db, e)
}

// UpdateElement runs apply against the current row under a row lock and
// writes the result back. apply errors abort the update unchanged.
func (s *PostgresStore) UpdateElement(ctx context.Context, id string, apply func(*Element) error) (Element, error) {
	var updated Element
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := scanElement(tx.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM slide_elements WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return wrap("lock element", err)
		}
		if err := apply(&current); err != nil {
			return err
		}
		updated, err = scanElement(tx.QueryRowContext(ctx, `
			UPDATE slide_elements
			SET kind=$2, x=$3, y=$4, width=$5, height=$6, content=$7::jsonb, style=$8::jsonb, z_index=$9, updated_at=NOW()
			WHERE id=$1
			RETURNING `+elementColumns, id, current.Kind, current.X, current.Y, current.Width, current.Height, current.Content, current.Style, current.Z))
		if err != nil {
			return fmt.Errorf("update element: %w", err)
		}
		return nil
	})
	if err != nil {
		return Element{}, err
	}
	return updated, nil
}

// DeleteElement removes the element. A missing element reports ok=false and
// no error.
func (s *PostgresStore) DeleteElement(ctx context.Context, id string) (Element, bool, error) {
	e, err := scanElement(s.db.QueryRowContext(ctx, `DELETE FROM slide_elements WHERE id=$1 RETURNING `+elementColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Element{}, false, nil
	}
	if err != nil {
		return Element{}, false, fmt.Errorf("delete element: %w", err)
	}
	return e, true, nil
}

// ReplacePageElements swaps the full element set of a page in one
// transaction.
func (s *PostgresStore) ReplacePageElements(ctx context.Context, pageID string, elements []Element) ([]Element, error) {
	var out []Element
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM slides WHERE id=$1 FOR UPDATE`, pageID).Scan(&id); err != nil {
			return wrap("lock slide", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM slide_elements WHERE slide_id=$1`, pageID); err != nil {
			return fmt.Errorf("clear slide elements: %w", err)
		}
		for _, e := range elements {
			e.PageID = pageID
			inserted, err := insertElementTx(ctx, tx, e)
			if err != nil {
				return err
			}
			out = append(out, inserted)
		}
		_, err := tx.ExecContext(ctx, `UPDATE slides SET updated_at=NOW() WHERE id=$1`, pageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortElements(out)
	return out, nil
}

type execQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func insertElementTx(ctx context.Context, q execQuerier, e Element) (Element, error) {
	out, err := scanElement(q.QueryRowContext(ctx, `
		INSERT INTO slide_elements (id, slide_id, kind, x, y, width, height, content, style, z_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10)
		RETURNING `+elementColumns, e.ID, e.PageID, e.Kind, e.X, e.Y, e.Width, e.Height, e.Content, e.Style, e.Z))
	if err != nil {
		return Element{}, wrap("insert element", err)
	}
	return out, nil
}

func listElementsTx(ctx context.Context, q rowsQuerier, pageID string) ([]Element, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+elementColumns+` FROM slide_elements WHERE slide_id=$1 ORDER BY z_index, id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list elements: %w", err)
	}
	defer rows.Close()
	return collectElements(rows)
}

func collectElements(rows *sql.Rows) ([]Element, error) {
	out := []Element{}
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Participants

// UpsertParticipant binds a display name in a document to a connection and
// marks it active. An existing row keeps its role.
func (s *PostgresStore) UpsertParticipant(ctx context.Context, p Participant) (Participant, error) {
	out, err := scanParticipant(s.db.QueryRowContext(ctx, `
		INSERT INTO presentation_participants (presentation_id, display_name, connection_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (presentation_id, display_name) DO UPDATE
		SET connection_id=EXCLUDED.connection_id, is_active=TRUE, joined_at=EXCLUDED.joined_at
		RETURNING `+participantColumns, p.DocumentID, p.DisplayName, p.ConnectionID, p.Role, p.JoinedAt))
	if err != nil {
		return Participant{}, wrap("upsert participant", err)
	}
	return out, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, documentID, displayName string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM presentation_participants
		WHERE presentation_id=$1 AND display_name=$2
	`, documentID, displayName))
	if err != nil {
		return Participant{}, wrap("get participant", err)
	}
	return p, nil
}

func (s *PostgresStore) GetParticipantByConnection(ctx context.Context, connectionID string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM presentation_participants
		WHERE connection_id=$1 AND is_active
		ORDER BY joined_at DESC
		LIMIT 1
	`, connectionID))
	if err != nil {
		return Participant{}, wrap("get participant by connection", err)
	}
	return p, nil
}

// DeactivateConnection marks the participant bound to connectionID inactive.
// A connection that was superseded by a reconnect matches nothing.
func (s *PostgresStore) DeactivateConnection(ctx context.Context, connectionID string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		UPDATE presentation_participants SET is_active=FALSE
		WHERE connection_id=$1 AND is_active
		RETURNING `+participantColumns, connectionID))
	if err != nil {
		return Participant{}, wrap("deactivate participant", err)
	}
	return p, nil
}

func (s *PostgresStore) ListActiveParticipants(ctx context.Context, documentID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM presentation_participants
		WHERE presentation_id=$1 AND is_active
		ORDER BY joined_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	out := []Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateParticipantRole(ctx context.Context, documentID, displayName, role string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		UPDATE presentation_participants SET role=$3
		WHERE presentation_id=$1 AND display_name=$2
		RETURNING `+participantColumns, documentID, displayName, role))
	if err != nil {
		return Participant{}, wrap("update participant role", err)
	}
	return p, nil
}

// Change log

func (s *PostgresStore) InsertElementChange(ctx context.Context, c ElementChange) error {
	var before, after any
	if c.Before != nil {
		before = c.Before
	}
	if c.After != nil {
		after = c.After
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO element_changes (element_id, slide_id, action, data_before, data_after, actor_name)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6)
	`, c.ElementID, c.PageID, c.Action, before, after, c.Actor); err != nil {
		return wrap("insert element change", err)
	}
	return nil
}

func (s *PostgresStore) ListElementChanges(ctx context.Context, elementID string, limit int) ([]ElementChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, element_id, slide_id, action, data_before, data_after, actor_name, created_at
		FROM element_changes
		WHERE element_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, elementID, limit)
	if err != nil {
		return nil, fmt.Errorf("list element changes: %w", err)
	}
	defer rows.Close()

	out := []ElementChange{}
	for rows.Next() {
		var c ElementChange
		if err := rows.Scan(&c.ID, &c.ElementID, &c.PageID, &c.Action, &c.Before, &c.After, &c.Actor, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan element change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
