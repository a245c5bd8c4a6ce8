package identity

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username  TEXT PRIMARY KEY,
	password  TEXT NOT NULL,
	socket_id TEXT NOT NULL DEFAULT ''
)`

// PostgresStore keeps accounts in the users table. It also mirrors the
// connection each user is currently bound to in the socket_id column.
type PostgresStore struct {
	pool *pgxpool.Pool
	cost int
}

// OpenPostgres connects to databaseURL and makes sure the users table exists.
func OpenPostgres(ctx context.Context, databaseURL string, cost int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create users table")
	}
	return &PostgresStore{pool: pool, cost: cost}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Register(ctx context.Context, username, password string) error {
	if err := ValidateCredentials(username, password); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, password, socket_id) VALUES ($1, $2, '') ON CONFLICT (username) DO NOTHING`,
		username, hash)
	if err != nil {
		return errors.Wrapf(err, "insert user %s", username)
	}
	if tag.RowsAffected() == 0 {
		return ErrUsernameTaken
	}
	return nil
}

func (s *PostgresStore) VerifyCredentials(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password FROM users WHERE username = $1`, username).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "load user %s", username)
	}
	return checkPassword(hash, password), nil
}

func (s *PostgresStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check user %s", username)
	}
	return exists, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, substring string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username FROM users WHERE username ILIKE '%' || $1 || '%' ORDER BY username`,
		escapeLike(substring))
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "scan usernames")
	}
	return names, nil
}

// RecordConnection stores the connection token the user is bound to.
func (s *PostgresStore) RecordConnection(ctx context.Context, username, connectionToken string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET socket_id = $2 WHERE username = $1`, username, connectionToken)
	return errors.Wrapf(err, "record connection for %s", username)
}

func (s *PostgresStore) ClearConnection(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET socket_id = '' WHERE username = $1`, username)
	return errors.Wrapf(err, "clear connection for %s", username)
}

// connectionOf returns the mirrored token, "" when the user is offline.
func (s *PostgresStore) connectionOf(ctx context.Context, username string) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx, `SELECT socket_id FROM users WHERE username = $1`, username).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return token, errors.Wrapf(err, "load connection for %s", username)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
