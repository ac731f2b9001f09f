// internal/database/crud.go
//
// Generic create/read/update/delete over a *Session.
//
// Context
// -------
// Each helper is parameterised by the entity type T and works on *T, which
// must be a bun model (a struct embedding bun.BaseModel with a `pk` column).
// Identity is the primary key: updates, deletes, and refreshes all use
// WherePK.
//
// Every mutating helper stages its statements in the session transaction
// and commits once before returning, so a batch helper is one commit for the
// whole slice.  Errors from the driver are returned unwrapped and nothing is
// rolled back; the session keeps the failed transaction until the caller
// commits, rolls back, or closes.
package database

import (
	"context"
	"iter"

	"github.com/uptrace/bun"
)

// Filter narrows a read.
type Filter func(*bun.SelectQuery) *bun.SelectQuery

// Where builds a Filter from a bun condition, e.g. Where("email = ?", e).
func Where(query string, args ...any) Filter {
	return func(q *bun.SelectQuery) *bun.SelectQuery { return q.Where(query, args...) }
}

// Page bounds a read.  Zero values mean "no offset" and "no limit".
type Page struct {
	Offset int
	Limit  int
}

// Create inserts entity and commits.  With refresh the row is re-read so
// database-generated columns land in entity.
func Create[T any](ctx context.Context, s *Session, entity *T, refresh bool) (*T, error) {
	if _, err := CreateMany(ctx, s, []*T{entity}, refresh); err != nil {
		return nil, err
	}
	return entity, nil
}

// CreateMany inserts every entity and commits once.
func CreateMany[T any](ctx context.Context, s *Session, entities []*T, refresh bool) ([]*T, error) {
	idb, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if _, err := idb.NewInsert().Model(e).Exec(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.Commit(); err != nil {
		return nil, err
	}
	if refresh {
		if err := refreshAll(ctx, s, entities); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

// Read streams rows of T matching filter.  A nil filter selects every row.
// The query runs when iteration starts; stopping early closes the cursor.
func Read[T any](ctx context.Context, s *Session, filter Filter, page Page) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		idb, err := s.reader(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		q := idb.NewSelect().Model((*T)(nil))
		if filter != nil {
			q = filter(q)
		}
		if page.Offset > 0 {
			q = q.Offset(page.Offset)
		}
		if page.Limit > 0 {
			q = q.Limit(page.Limit)
		}

		rows, err := q.Rows(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			e := new(T)
			if err := s.db.ScanRow(ctx, rows, e); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// ReadAll drains Read into a slice.
func ReadAll[T any](ctx context.Context, s *Session, filter Filter, page Page) ([]*T, error) {
	var out []*T
	for e, err := range Read[T](ctx, s, filter, page) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Update writes entity by primary key, commits, and refreshes it.
func Update[T any](ctx context.Context, s *Session, entity *T) (*T, error) {
	if _, err := UpdateMany(ctx, s, []*T{entity}); err != nil {
		return nil, err
	}
	return entity, nil
}

// UpdateMany writes every entity, commits once, and refreshes each.
func UpdateMany[T any](ctx context.Context, s *Session, entities []*T) ([]*T, error) {
	idb, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if _, err := idb.NewUpdate().Model(e).WherePK().Exec(ctx); err != nil {
			return nil, err
		}
	}
	if err := s.Commit(); err != nil {
		return nil, err
	}
	if err := refreshAll(ctx, s, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Delete removes entity by primary key and commits.
func Delete[T any](ctx context.Context, s *Session, entity *T) error {
	return DeleteMany(ctx, s, []*T{entity})
}

// DeleteMany removes every entity and commits once.
func DeleteMany[T any](ctx context.Context, s *Session, entities []*T) error {
	idb, err := s.begin(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if _, err := idb.NewDelete().Model(e).WherePK().Exec(ctx); err != nil {
			return err
		}
	}
	return s.Commit()
}

func refreshAll[T any](ctx context.Context, s *Session, entities []*T) error {
	idb, err := s.reader(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if err := idb.NewSelect().Model(e).WherePK().Scan(ctx); err != nil {
			return err
		}
	}
	return nil
}
