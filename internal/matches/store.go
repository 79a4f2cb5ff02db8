package matches

import (
	"context"
	"errors"

	"macrocoach/internal/db"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by Latest when the table is empty.
var ErrNotFound = errors.New("matches: no match recorded")

const (
	insertSQL = `
		INSERT INTO matches (summoner_name, champion, kda, win)
		VALUES ($1, $2, $3, $4)
		RETURNING id, summoner_name, champion, COALESCE(kda, '0/0/0') AS kda, COALESCE(win, false) AS win, created_at`

	recentSQL = `
		SELECT id, summoner_name, champion, COALESCE(kda, '0/0/0') AS kda, COALESCE(win, false) AS win, created_at
		FROM matches
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
)

// HistoryLimit is how many matches /api/history returns.
const HistoryLimit = 10

// Store persists matches through the router: inserts go to the primary,
// selects go to a replica.
type Store struct {
	router *db.Router
}

func NewStore(router *db.Router) *Store {
	return &Store{router: router}
}

func (s *Store) Insert(ctx context.Context, m NewMatch) (Record, db.RoutingDecision, error) {
	rows, d, err := db.ExecuteWrite(ctx, s.router, insertSQL, pgx.RowToStructByName[Record],
		m.SummonerName, m.Champion, m.KDA, m.Win)
	if err != nil {
		return Record{}, d, err
	}
	if len(rows) != 1 {
		return Record{}, d, errors.New("matches: insert returned no row")
	}
	return rows[0], d, nil
}

// Recent returns up to limit matches, newest first, from one replica.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, db.RoutingDecision, error) {
	if limit <= 0 {
		limit = HistoryLimit
	}
	rows, d, err := db.ExecuteRead(ctx, s.router, recentSQL, pgx.RowToStructByName[Record], limit)
	if err != nil {
		return nil, d, err
	}
	if rows == nil {
		rows = []Record{}
	}
	return rows, d, nil
}

// Latest returns the most recent match from one replica.
func (s *Store) Latest(ctx context.Context) (Record, db.RoutingDecision, error) {
	rows, d, err := s.Recent(ctx, 1)
	if err != nil {
		return Record{}, d, err
	}
	if len(rows) == 0 {
		return Record{}, d, ErrNotFound
	}
	return rows[0], d, nil
}
