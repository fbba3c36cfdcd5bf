package store

import (
	"context"
	"database/sql"

	"github.com/osmcha/osmcha/errs"
)

const selectUserSQL = `SELECT id, username, uid, is_staff, message_good, message_bad, comment_feature FROM users`

func scanUser(row *sql.Row) (*User, error) {
	u := User{}
	err := row.Scan(&u.ID, &u.Username, &u.UID, &u.IsStaff,
		&u.MessageGood, &u.MessageBad, &u.CommentFeature)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByToken resolves an API token to its user.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	return scanUser(s.DB.QueryRowContext(ctx, selectUserSQL+` WHERE token = $1`, token))
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.DB.QueryRowContext(ctx, selectUserSQL+` WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.DB.QueryRowContext(ctx, selectUserSQL+` WHERE username = $1`, username))
}

// EnsureUser creates or refreshes a user record after OSM
// authentication. Username and uid track the OSM account, the token
// authenticates API calls.
func (s *Store) EnsureUser(ctx context.Context, username, uid, token string) (*User, error) {
	q := `INSERT INTO users (username, uid, token) VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET uid = EXCLUDED.uid, token = EXCLUDED.token
		RETURNING id, username, uid, is_staff, message_good, message_bad, comment_feature`
	u := User{}
	err := s.DB.QueryRowContext(ctx, q, username, uid, token).Scan(
		&u.ID, &u.Username, &u.UID, &u.IsStaff,
		&u.MessageGood, &u.MessageBad, &u.CommentFeature)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return &u, nil
}

// UpdateUserSettings stores the per-user review comment defaults.
func (s *Store) UpdateUserSettings(ctx context.Context, id int64, messageGood, messageBad string, commentFeature bool) error {
	q := `UPDATE users SET message_good = $2, message_bad = $3, comment_feature = $4 WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, q, id, messageGood, messageBad, commentFeature)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "user not found")
	}
	return nil
}

// UserToken returns the stored OSM access token of a user. Kept out
// of the User struct so it never leaks through serialization.
func (s *Store) UserToken(ctx context.Context, id int64) (string, error) {
	var token string
	q := `SELECT token FROM users WHERE id = $1`
	err := s.DB.QueryRowContext(ctx, q, id).Scan(&token)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return "", &SQLError{q, err}
	}
	return token, nil
}
