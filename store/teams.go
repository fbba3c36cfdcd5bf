package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/osmcha/osmcha/errs"
)

// ListWhitelist returns the trusted-user names of one requester.
func (s *Store) ListWhitelist(ctx context.Context, userID int64) ([]WhitelistEntry, error) {
	q := `SELECT id, user_id, whitelist_user FROM user_whitelists WHERE user_id = $1 ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var entries []WhitelistEntry
	for rows.Next() {
		e := WhitelistEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.WhitelistUser); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddWhitelistUser adds a name to the requester's whitelist. Adding
// a name twice is rejected.
func (s *Store) AddWhitelistUser(ctx context.Context, userID int64, name string) (*WhitelistEntry, error) {
	if name == "" {
		return nil, errs.New(errs.KindValidation, "whitelist_user must not be empty")
	}
	q := `INSERT INTO user_whitelists (user_id, whitelist_user) VALUES ($1, $2)
		ON CONFLICT DO NOTHING RETURNING id`
	e := WhitelistEntry{UserID: userID, WhitelistUser: name}
	err := s.DB.QueryRowContext(ctx, q, userID, name).Scan(&e.ID)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindConflict, "user %s is already whitelisted", name)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return &e, nil
}

func (s *Store) RemoveWhitelistUser(ctx context.Context, userID int64, name string) error {
	q := `DELETE FROM user_whitelists WHERE user_id = $1 AND whitelist_user = $2`
	result, err := s.DB.ExecContext(ctx, q, userID, name)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "user %s is not whitelisted", name)
	}
	return nil
}

// ListBlacklist returns all blacklisted users.
func (s *Store) ListBlacklist(ctx context.Context) ([]BlacklistedUser, error) {
	q := `SELECT id, added_by, uid, username, date FROM blacklisted_users ORDER BY date DESC`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var entries []BlacklistedUser
	for rows.Next() {
		e := BlacklistedUser{}
		if err := rows.Scan(&e.ID, &e.AddedBy, &e.UID, &e.Username, &e.Date); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AddBlacklistedUser(ctx context.Context, addedBy int64, uid, username string) (*BlacklistedUser, error) {
	if uid == "" {
		return nil, errs.New(errs.KindValidation, "uid must not be empty")
	}
	q := `INSERT INTO blacklisted_users (added_by, uid, username) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING RETURNING id, date`
	e := BlacklistedUser{AddedBy: addedBy, UID: uid, Username: username}
	err := s.DB.QueryRowContext(ctx, q, addedBy, uid, username).Scan(&e.ID, &e.Date)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindConflict, "uid %s is already blacklisted", uid)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return &e, nil
}

func (s *Store) GetBlacklistedUser(ctx context.Context, uid string) (*BlacklistedUser, error) {
	q := `SELECT id, added_by, uid, username, date FROM blacklisted_users WHERE uid = $1`
	e := BlacklistedUser{}
	err := s.DB.QueryRowContext(ctx, q, uid).Scan(&e.ID, &e.AddedBy, &e.UID, &e.Username, &e.Date)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "uid %s is not blacklisted", uid)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return &e, nil
}

// UpdateBlacklistedUser changes the recorded username, or moves the
// entry to a new uid.
func (s *Store) UpdateBlacklistedUser(ctx context.Context, uid, newUID, username string) (*BlacklistedUser, error) {
	if newUID == "" {
		newUID = uid
	}
	q := `UPDATE blacklisted_users SET uid = $2, username = coalesce(nullif($3, ''), username)
		WHERE uid = $1
		RETURNING id, added_by, uid, username, date`
	e := BlacklistedUser{}
	err := s.DB.QueryRowContext(ctx, q, uid, newUID, username).Scan(
		&e.ID, &e.AddedBy, &e.UID, &e.Username, &e.Date)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "uid %s is not blacklisted", uid)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return &e, nil
}

func (s *Store) RemoveBlacklistedUser(ctx context.Context, uid string) error {
	q := `DELETE FROM blacklisted_users WHERE uid = $1`
	result, err := s.DB.ExecContext(ctx, q, uid)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "uid %s is not blacklisted", uid)
	}
	return nil
}

func scanTeam(row interface {
	Scan(dest ...interface{}) error
}) (*MappingTeam, error) {
	t := MappingTeam{}
	var users []byte
	err := row.Scan(&t.ID, &t.Name, &t.Trusted, &users, &t.CreatedBy, &t.Date)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(users, &t.Users); err != nil {
		return nil, errors.Wrap(err, "decoding team users")
	}
	return &t, nil
}

const selectTeamSQL = `SELECT id, name, trusted, users, created_by, date FROM mapping_teams`

func (s *Store) ListMappingTeams(ctx context.Context) ([]*MappingTeam, error) {
	q := selectTeamSQL + ` ORDER BY name`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var teams []*MappingTeam
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *Store) GetMappingTeam(ctx context.Context, id int64) (*MappingTeam, error) {
	t, err := scanTeam(s.DB.QueryRowContext(ctx, selectTeamSQL+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "mapping team %d not found", id)
	}
	return t, err
}

func (s *Store) CreateMappingTeam(ctx context.Context, name string, users []TeamMember, createdBy int64) (*MappingTeam, error) {
	if name == "" {
		return nil, errs.New(errs.KindValidation, "team name must not be empty")
	}
	if users == nil {
		users = []TeamMember{}
	}
	q := `INSERT INTO mapping_teams (name, users, created_by) VALUES ($1, $2, $3)
		RETURNING id, name, trusted, users, created_by, date`
	t, err := scanTeam(s.DB.QueryRowContext(ctx, q, name, mustJSON(users), createdBy))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return nil, errs.Newf(errs.KindConflict, "mapping team %s already exists", name)
		}
		return nil, &SQLError{q, err}
	}
	return t, nil
}

// UpdateMappingTeam replaces the name and member roster. Only the
// creator and staff may edit; enforced by the caller.
func (s *Store) UpdateMappingTeam(ctx context.Context, id int64, name string, users []TeamMember) (*MappingTeam, error) {
	if users == nil {
		users = []TeamMember{}
	}
	q := `UPDATE mapping_teams SET name = coalesce(nullif($2, ''), name), users = $3
		WHERE id = $1
		RETURNING id, name, trusted, users, created_by, date`
	t, err := scanTeam(s.DB.QueryRowContext(ctx, q, id, name, mustJSON(users)))
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "mapping team %d not found", id)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return t, nil
}

// SetMappingTeamTrusted flips the trusted flag. Staff only; enforced
// by the caller.
func (s *Store) SetMappingTeamTrusted(ctx context.Context, id int64, trusted bool) error {
	q := `UPDATE mapping_teams SET trusted = $2 WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, q, id, trusted)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "mapping team %d not found", id)
	}
	return nil
}

func (s *Store) DeleteMappingTeam(ctx context.Context, id int64) error {
	q := `DELETE FROM mapping_teams WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, q, id)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "mapping team %d not found", id)
	}
	return nil
}

func scanChallenge(row interface {
	Scan(dest ...interface{}) error
}) (*Challenge, error) {
	ch := Challenge{}
	var reasons []byte
	err := row.Scan(&ch.ID, &ch.ChallengeID, &ch.Active, &ch.CreatedBy, &ch.Created, &reasons)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reasons, &ch.ReasonIDs); err != nil {
		return nil, errors.Wrap(err, "decoding challenge reasons")
	}
	return &ch, nil
}

const selectChallengeSQL = `
SELECT ch.id, ch.challenge_id, ch.active, ch.created_by, ch.created,
	coalesce((SELECT json_agg(cr.reason_id ORDER BY cr.reason_id)
		FROM challenge_reasons cr WHERE cr.challenge_id = ch.id), '[]')
FROM challenge_integrations ch`

func (s *Store) ListChallenges(ctx context.Context) ([]*Challenge, error) {
	q := selectChallengeSQL + ` ORDER BY ch.id`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var challenges []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ch)
	}
	return challenges, rows.Err()
}

func (s *Store) GetChallenge(ctx context.Context, id int64) (*Challenge, error) {
	ch, err := scanChallenge(s.DB.QueryRowContext(ctx, selectChallengeSQL+` WHERE ch.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "challenge %d not found", id)
	}
	return ch, err
}

func (s *Store) CreateChallenge(ctx context.Context, challengeID int, reasonIDs []int64, createdBy int64) (*Challenge, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rollbackIfTx(&tx)

	var id int64
	q := `INSERT INTO challenge_integrations (challenge_id, created_by) VALUES ($1, $2)
		ON CONFLICT (challenge_id) DO NOTHING RETURNING id`
	err = tx.QueryRowContext(ctx, q, challengeID, createdBy).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindConflict, "challenge %d is already integrated", challengeID)
	}
	if err != nil {
		return nil, &SQLError{q, err}
	}
	if err := replaceChallengeReasons(ctx, tx, id, reasonIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tx = nil
	return s.GetChallenge(ctx, id)
}

func (s *Store) UpdateChallenge(ctx context.Context, id int64, active bool, reasonIDs []int64) (*Challenge, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rollbackIfTx(&tx)

	q := `UPDATE challenge_integrations SET active = $2 WHERE id = $1`
	result, err := tx.ExecContext(ctx, q, id, active)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errs.Newf(errs.KindNotFound, "challenge %d not found", id)
	}
	if err := replaceChallengeReasons(ctx, tx, id, reasonIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tx = nil
	return s.GetChallenge(ctx, id)
}

func (s *Store) DeleteChallenge(ctx context.Context, id int64) error {
	q := `DELETE FROM challenge_integrations WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, q, id)
	if err != nil {
		return &SQLError{q, err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Newf(errs.KindNotFound, "challenge %d not found", id)
	}
	return nil
}

func replaceChallengeReasons(ctx context.Context, tx *sql.Tx, id int64, reasonIDs []int64) error {
	q := `DELETE FROM challenge_reasons WHERE challenge_id = $1`
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return &SQLError{q, err}
	}
	for _, reasonID := range uniqueIDs(reasonIDs) {
		q := `INSERT INTO challenge_reasons (challenge_id, reason_id) VALUES ($1, $2)`
		if _, err := tx.ExecContext(ctx, q, id, reasonID); err != nil {
			return &SQLError{q, err}
		}
	}
	return nil
}

// ActiveChallengesForReasons returns the active challenges whose
// reason set overlaps the given reasons.
func (s *Store) ActiveChallengesForReasons(ctx context.Context, reasonIDs []int64) ([]*Challenge, error) {
	if len(reasonIDs) == 0 {
		return nil, nil
	}
	q := selectChallengeSQL + ` WHERE ch.active AND EXISTS (
		SELECT 1 FROM challenge_reasons cr
		WHERE cr.challenge_id = ch.id AND cr.reason_id = ANY($1))
		ORDER BY ch.id`
	rows, err := s.DB.QueryContext(ctx, q, pq.Array(reasonIDs))
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var challenges []*Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ch)
	}
	return challenges, rows.Err()
}
