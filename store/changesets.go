package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/geo"
)

// ChangesetRecord is the analysis result to persist. Review state is
// never part of it; upserting an already reviewed changeset keeps
// its review untouched.
type ChangesetRecord struct {
	ID             int64
	User           string
	UID            string
	Editor         string
	PowerfulEditor bool
	Comment        string
	Source         string
	ImageryUsed    string
	Date           time.Time
	Create         int
	Modify         int
	Delete         int
	CommentsCount  int
	Bounds         geo.Bounds
	HasBounds      bool
	Area           float64
	Metadata       map[string]string
	TagChanges     map[string][]string
	Reasons        []string
}

const upsertChangesetSQL = `
INSERT INTO changesets (
	id, "user", uid, editor, powerful_editor, comment, source,
	imagery_used, date, "create", modify, "delete", comments_count,
	bbox, area, metadata, tag_changes
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
	CASE WHEN $14::float8 IS NULL THEN NULL
		ELSE ST_SetSRID(ST_MakeEnvelope($14, $15, $16, $17), 4326) END,
	$18, $19, $20
)
ON CONFLICT (id) DO UPDATE SET
	"user" = EXCLUDED."user",
	uid = EXCLUDED.uid,
	editor = EXCLUDED.editor,
	powerful_editor = EXCLUDED.powerful_editor,
	comment = EXCLUDED.comment,
	source = EXCLUDED.source,
	imagery_used = EXCLUDED.imagery_used,
	date = EXCLUDED.date,
	"create" = EXCLUDED."create",
	modify = EXCLUDED.modify,
	"delete" = EXCLUDED."delete",
	comments_count = EXCLUDED.comments_count,
	bbox = EXCLUDED.bbox,
	area = EXCLUDED.area,
	metadata = EXCLUDED.metadata,
	tag_changes = EXCLUDED.tag_changes
`

// UpsertChangeset creates or updates a changeset from an analysis
// record and binds its suspicion reasons. The insert takes the row
// lock, so concurrent imports of the same id serialize and reasons
// merge by set union. is_suspect reflects whether any visible reason
// is bound afterwards.
func (s *Store) UpsertChangeset(ctx context.Context, rec ChangesetRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	minX, minY, maxX, maxY := bboxArgs(rec.Bounds, rec.HasBounds)
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	tagChanges := rec.TagChanges
	if tagChanges == nil {
		tagChanges = map[string][]string{}
	}
	_, err = tx.ExecContext(ctx, upsertChangesetSQL,
		rec.ID, rec.User, rec.UID, rec.Editor, rec.PowerfulEditor,
		rec.Comment, rec.Source, rec.ImageryUsed, nullTime(rec.Date),
		rec.Create, rec.Modify, rec.Delete, rec.CommentsCount,
		minX, minY, maxX, maxY,
		rec.Area, mustJSON(metadata), mustJSON(tagChanges),
	)
	if err != nil {
		return &SQLError{upsertChangesetSQL, err}
	}

	for _, name := range rec.Reasons {
		reason, err := getOrCreateAnnotation(ctx, tx, "suspicion_reasons", name)
		if err != nil {
			return err
		}
		// operators can restrict a reason to features only
		if !reason.ForChangeset {
			continue
		}
		if err := linkReason(ctx, tx, rec.ID, reason.ID); err != nil {
			return err
		}
	}
	if err := refreshSuspect(ctx, tx, rec.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// getOrCreateAnnotation resolves a reason or tag by name, creating
// it on first sight. Safe under concurrent creation of the same
// name.
func getOrCreateAnnotation(ctx context.Context, tx *sql.Tx, table, name string) (Annotation, error) {
	q := `
		WITH ins AS (
			INSERT INTO ` + table + ` (name) VALUES ($1)
			ON CONFLICT (name) DO NOTHING
			RETURNING id, name, description, is_visible, for_changeset, for_feature
		)
		SELECT id, name, description, is_visible, for_changeset, for_feature FROM ins
		UNION ALL
		SELECT id, name, description, is_visible, for_changeset, for_feature
		FROM ` + table + ` WHERE name = $1
		LIMIT 1`
	a := Annotation{}
	err := tx.QueryRowContext(ctx, q, name).Scan(
		&a.ID, &a.Name, &a.Description, &a.IsVisible, &a.ForChangeset, &a.ForFeature)
	if err != nil {
		return Annotation{}, &SQLError{q, err}
	}
	return a, nil
}

func linkReason(ctx context.Context, tx *sql.Tx, changesetID, reasonID int64) error {
	q := `INSERT INTO changeset_reasons (changeset_id, reason_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	if _, err := tx.ExecContext(ctx, q, changesetID, reasonID); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// refreshSuspect recomputes is_suspect from the visible bound
// reasons. Staff-only reasons alone never flip the flag.
func refreshSuspect(ctx context.Context, tx *sql.Tx, changesetID int64) error {
	q := `UPDATE changesets SET is_suspect = EXISTS (
			SELECT 1 FROM changeset_reasons cr
			JOIN suspicion_reasons r ON r.id = cr.reason_id
			WHERE cr.changeset_id = changesets.id AND r.is_visible
		) WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, changesetID); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// AttachReason binds the named reason to a changeset, creating the
// reason if needed.
func (s *Store) AttachReason(ctx context.Context, changesetID int64, name string) (Annotation, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Annotation{}, err
	}
	defer rollbackIfTx(&tx)

	reason, err := getOrCreateAnnotation(ctx, tx, "suspicion_reasons", name)
	if err != nil {
		return Annotation{}, err
	}
	if !reason.ForChangeset {
		return Annotation{}, errs.Newf(errs.KindValidation,
			"reason %q does not apply to changesets", reason.Name)
	}
	if err := linkReason(ctx, tx, changesetID, reason.ID); err != nil {
		return Annotation{}, err
	}
	if err := refreshSuspect(ctx, tx, changesetID); err != nil {
		return Annotation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Annotation{}, err
	}
	tx = nil
	return reason, nil
}

const selectChangesetSQL = `
SELECT c.id, c."user", c.uid, c.editor, c.powerful_editor, c.comment,
	c.source, c.imagery_used, c.date, c."create", c.modify, c."delete",
	c.comments_count,
	ST_XMin(c.bbox), ST_YMin(c.bbox), ST_XMax(c.bbox), ST_YMax(c.bbox),
	c.area, c.is_suspect, c.harmful, c.checked, c.check_date,
	c.metadata, c.tag_changes, c.new_features, c.reviewed_features,
	u.id, u.username, u.uid, u.is_staff
FROM changesets c
LEFT JOIN users u ON u.id = c.check_user_id
`

func scanChangeset(row interface {
	Scan(dest ...interface{}) error
}) (*Changeset, error) {
	c := Changeset{}
	var (
		date                   sql.NullTime
		minX, minY, maxX, maxY sql.NullFloat64
		checkDate              sql.NullTime
		metadata, tagChanges   []byte
		newFeatures, reviewed  []byte
		userID                 sql.NullInt64
		username, userUID      sql.NullString
		isStaff                sql.NullBool
	)
	err := row.Scan(
		&c.ID, &c.User, &c.UID, &c.Editor, &c.PowerfulEditor, &c.Comment,
		&c.Source, &c.ImageryUsed, &date, &c.Create, &c.Modify, &c.Delete,
		&c.CommentsCount,
		&minX, &minY, &maxX, &maxY,
		&c.Area, &c.IsSuspect, &c.Harmful, &c.Checked, &checkDate,
		&metadata, &tagChanges, &newFeatures, &reviewed,
		&userID, &username, &userUID, &isStaff,
	)
	if err != nil {
		return nil, err
	}
	if date.Valid {
		c.Date = date.Time
	}
	c.Bounds, c.HasBounds = scanBounds(minX, minY, maxX, maxY)
	if checkDate.Valid {
		t := checkDate.Time
		c.CheckDate = &t
	}
	if userID.Valid {
		c.CheckUser = &User{
			ID:       userID.Int64,
			Username: username.String,
			UID:      userUID.String,
			IsStaff:  isStaff.Bool,
		}
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, errors.Wrap(err, "decoding metadata")
	}
	if err := json.Unmarshal(tagChanges, &c.TagChanges); err != nil {
		return nil, errors.Wrap(err, "decoding tag_changes")
	}
	if err := json.Unmarshal(newFeatures, &c.NewFeatures); err != nil {
		return nil, errors.Wrap(err, "decoding new_features")
	}
	if err := json.Unmarshal(reviewed, &c.ReviewedFeatures); err != nil {
		return nil, errors.Wrap(err, "decoding reviewed_features")
	}
	return &c, nil
}

// GetChangeset loads a changeset with its reasons and tags.
func (s *Store) GetChangeset(ctx context.Context, id int64) (*Changeset, error) {
	row := s.DB.QueryRowContext(ctx, selectChangesetSQL+` WHERE c.id = $1`, id)
	c, err := scanChangeset(row)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadAnnotations(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) loadAnnotations(ctx context.Context, c *Changeset) error {
	var err error
	c.Reasons, err = s.changesetAnnotations(ctx, "changeset_reasons", "suspicion_reasons", "reason_id", c.ID)
	if err != nil {
		return err
	}
	c.Tags, err = s.changesetAnnotations(ctx, "changeset_tags", "tags", "tag_id", c.ID)
	return err
}

func (s *Store) changesetAnnotations(ctx context.Context, joinTable, table, fk string, id int64) ([]Annotation, error) {
	q := `SELECT a.id, a.name, a.description, a.is_visible, a.for_changeset, a.for_feature
		FROM ` + table + ` a
		JOIN ` + joinTable + ` j ON j.` + fk + ` = a.id
		WHERE j.changeset_id = $1 ORDER BY a.id`
	rows, err := s.DB.QueryContext(ctx, q, id)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var result []Annotation
	for rows.Next() {
		a := Annotation{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.IsVisible, &a.ForChangeset, &a.ForFeature); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ReviewChangeset marks a changeset as harmful or good.
func (s *Store) ReviewChangeset(ctx context.Context, id int64, reviewer *User, harmful bool, tagIDs []int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	var checked bool
	var uid string
	q := `SELECT checked, uid FROM changesets WHERE id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, q, id).Scan(&checked, &uid)
	if err == sql.ErrNoRows {
		return errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if err != nil {
		return &SQLError{q, err}
	}
	if checked {
		return errs.New(errs.KindAlreadyChecked, "changeset was already checked")
	}
	if uid != "" && uid == reviewer.UID {
		return errs.New(errs.KindOwnChangeset, "user can not check their own changeset")
	}

	if len(tagIDs) > 0 {
		var count int
		q := `SELECT count(*) FROM tags WHERE id = ANY($1) AND for_changeset`
		if err := tx.QueryRowContext(ctx, q, pq.Array(tagIDs)).Scan(&count); err != nil {
			return &SQLError{q, err}
		}
		if count != len(uniqueIDs(tagIDs)) {
			return errs.New(errs.KindValidation, "unknown tag id")
		}
		for _, tagID := range tagIDs {
			q := `INSERT INTO changeset_tags (changeset_id, tag_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, q, id, tagID); err != nil {
				return &SQLError{q, err}
			}
		}
	}

	q = `UPDATE changesets
		SET checked = TRUE, harmful = $2, check_user_id = $3, check_date = now()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, id, harmful, reviewer.ID); err != nil {
		return &SQLError{q, err}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := map[int64]struct{}{}
	var result []int64
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

// UncheckChangeset clears the review state. Tags bound during review
// are kept.
func (s *Store) UncheckChangeset(ctx context.Context, id int64, reviewer *User) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	var checked bool
	var checkUser sql.NullInt64
	q := `SELECT checked, check_user_id FROM changesets WHERE id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, q, id).Scan(&checked, &checkUser)
	if err == sql.ErrNoRows {
		return errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if err != nil {
		return &SQLError{q, err}
	}
	if !checked {
		return errs.New(errs.KindUnchecked, "changeset is not checked")
	}
	if !reviewer.IsStaff && (!checkUser.Valid || checkUser.Int64 != reviewer.ID) {
		return errs.New(errs.KindPermissionDenied, "user does not have permission to uncheck this changeset")
	}

	q = `UPDATE changesets
		SET checked = FALSE, harmful = NULL, check_user_id = NULL, check_date = NULL
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, id); err != nil {
		return &SQLError{q, err}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

// AddChangesetTag binds a review tag. Allowed while the changeset is
// unchecked, or afterwards for the reviewer and staff. The creator
// of the changeset can never tag it.
func (s *Store) AddChangesetTag(ctx context.Context, id, tagID int64, actor *User) error {
	return s.modifyChangesetTag(ctx, id, tagID, actor, true)
}

// RemoveChangesetTag removes a review tag under the same policy as
// AddChangesetTag.
func (s *Store) RemoveChangesetTag(ctx context.Context, id, tagID int64, actor *User) error {
	return s.modifyChangesetTag(ctx, id, tagID, actor, false)
}

func (s *Store) modifyChangesetTag(ctx context.Context, id, tagID int64, actor *User, add bool) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	var checked bool
	var uid string
	var checkUser sql.NullInt64
	q := `SELECT checked, uid, check_user_id FROM changesets WHERE id = $1 FOR UPDATE`
	err = tx.QueryRowContext(ctx, q, id).Scan(&checked, &uid, &checkUser)
	if err == sql.ErrNoRows {
		return errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if err != nil {
		return &SQLError{q, err}
	}
	if uid != "" && uid == actor.UID {
		return errs.New(errs.KindPermissionDenied, "user can not tag their own changeset")
	}
	if checked && !actor.IsStaff && (!checkUser.Valid || checkUser.Int64 != actor.ID) {
		return errs.New(errs.KindPermissionDenied, "changeset was checked by another user")
	}

	if add {
		var exists bool
		q := `SELECT EXISTS (SELECT 1 FROM tags WHERE id = $1 AND for_changeset)`
		if err := tx.QueryRowContext(ctx, q, tagID).Scan(&exists); err != nil {
			return &SQLError{q, err}
		}
		if !exists {
			return errs.Newf(errs.KindNotFound, "tag %d not found", tagID)
		}
		q = `INSERT INTO changeset_tags (changeset_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, q, id, tagID); err != nil {
			return &SQLError{q, err}
		}
	} else {
		q := `DELETE FROM changeset_tags WHERE changeset_id = $1 AND tag_id = $2`
		if _, err := tx.ExecContext(ctx, q, id, tagID); err != nil {
			return &SQLError{q, err}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

// AddFeatureReview records that reviewer checked one feature of the
// changeset. Adding the same feature twice is a no-op.
func (s *Store) AddFeatureReview(ctx context.Context, id int64, featureURL string, reviewer *User) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer rollbackIfTx(&tx)

	reviewed, uid, err := lockReviewedFeatures(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if uid != "" && uid == reviewer.UID {
		return false, errs.New(errs.KindOwnChangeset, "user can not review features of their own changeset")
	}
	for _, f := range reviewed {
		if f.URL == featureURL {
			err := tx.Commit()
			tx = nil
			return false, err
		}
	}
	reviewed = append(reviewed, ReviewedFeature{URL: featureURL, User: reviewer.Username})
	if err := saveReviewedFeatures(ctx, tx, id, reviewed); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	tx = nil
	return true, nil
}

// RemoveFeatureReview removes a feature review entry. Only the user
// who added it and staff may remove it.
func (s *Store) RemoveFeatureReview(ctx context.Context, id int64, featureURL string, reviewer *User) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollbackIfTx(&tx)

	reviewed, _, err := lockReviewedFeatures(ctx, tx, id)
	if err != nil {
		return err
	}
	idx := -1
	for i, f := range reviewed {
		if f.URL == featureURL {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errs.Newf(errs.KindNotPresent, "feature %s is not reviewed", featureURL)
	}
	if !reviewer.IsStaff && reviewed[idx].User != reviewer.Username {
		return errs.New(errs.KindPermissionDenied, "feature was reviewed by another user")
	}
	reviewed = append(reviewed[:idx], reviewed[idx+1:]...)
	if err := saveReviewedFeatures(ctx, tx, id, reviewed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tx = nil
	return nil
}

func lockReviewedFeatures(ctx context.Context, tx *sql.Tx, id int64) ([]ReviewedFeature, string, error) {
	var raw []byte
	var uid string
	q := `SELECT reviewed_features, uid FROM changesets WHERE id = $1 FOR UPDATE`
	err := tx.QueryRowContext(ctx, q, id).Scan(&raw, &uid)
	if err == sql.ErrNoRows {
		return nil, "", errs.Newf(errs.KindNotFound, "changeset %d not found", id)
	}
	if err != nil {
		return nil, "", &SQLError{q, err}
	}
	var reviewed []ReviewedFeature
	if err := json.Unmarshal(raw, &reviewed); err != nil {
		return nil, "", errors.Wrap(err, "decoding reviewed_features")
	}
	return reviewed, uid, nil
}

func saveReviewedFeatures(ctx context.Context, tx *sql.Tx, id int64, reviewed []ReviewedFeature) error {
	if reviewed == nil {
		reviewed = []ReviewedFeature{}
	}
	q := `UPDATE changesets SET reviewed_features = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, id, mustJSON(reviewed)); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// AddReasonToChangesets binds one reason to many changesets.
// Staff-only batch operation; missing changesets are skipped.
func (s *Store) AddReasonToChangesets(ctx context.Context, reasonID int64, changesetIDs []int64) error {
	var applicable bool
	q := `SELECT EXISTS (SELECT 1 FROM suspicion_reasons WHERE id = $1 AND for_changeset)`
	if err := s.DB.QueryRowContext(ctx, q, reasonID).Scan(&applicable); err != nil {
		return &SQLError{q, err}
	}
	if !applicable {
		return errs.Newf(errs.KindValidation, "reason %d does not apply to changesets", reasonID)
	}
	q = `INSERT INTO changeset_reasons (changeset_id, reason_id)
		SELECT c.id, $1 FROM changesets c WHERE c.id = ANY($2)
		ON CONFLICT DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, q, reasonID, pq.Array(changesetIDs)); err != nil {
		return &SQLError{q, err}
	}
	return s.refreshSuspectMany(ctx, changesetIDs)
}

// RemoveReasonFromChangesets removes one reason from many
// changesets.
func (s *Store) RemoveReasonFromChangesets(ctx context.Context, reasonID int64, changesetIDs []int64) error {
	q := `DELETE FROM changeset_reasons WHERE reason_id = $1 AND changeset_id = ANY($2)`
	if _, err := s.DB.ExecContext(ctx, q, reasonID, pq.Array(changesetIDs)); err != nil {
		return &SQLError{q, err}
	}
	return s.refreshSuspectMany(ctx, changesetIDs)
}

func (s *Store) refreshSuspectMany(ctx context.Context, changesetIDs []int64) error {
	q := `UPDATE changesets SET is_suspect = EXISTS (
			SELECT 1 FROM changeset_reasons cr
			JOIN suspicion_reasons r ON r.id = cr.reason_id
			WHERE cr.changeset_id = changesets.id AND r.is_visible
		) WHERE id = ANY($1)`
	if _, err := s.DB.ExecContext(ctx, q, pq.Array(changesetIDs)); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// ListAnnotations returns reasons or tags, restricted to visible
// ones for non-staff callers.
func (s *Store) ListAnnotations(ctx context.Context, table string, staff bool) ([]Annotation, error) {
	q := `SELECT id, name, description, is_visible, for_changeset, for_feature FROM ` + table
	if !staff {
		q += ` WHERE is_visible`
	}
	q += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var result []Annotation
	for rows.Next() {
		a := Annotation{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.IsVisible, &a.ForChangeset, &a.ForFeature); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) ListReasons(ctx context.Context, staff bool) ([]Annotation, error) {
	return s.ListAnnotations(ctx, "suspicion_reasons", staff)
}

func (s *Store) ListTags(ctx context.Context, staff bool) ([]Annotation, error) {
	return s.ListAnnotations(ctx, "tags", staff)
}

// Sweep deletes unchecked changesets older than the threshold that
// carry no reasons, tags or features.
func (s *Store) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	q := `DELETE FROM changesets c
		WHERE NOT c.checked
		AND c.date < $1
		AND c.new_features = '[]'
		AND c.reviewed_features = '[]'
		AND NOT EXISTS (SELECT 1 FROM changeset_reasons cr WHERE cr.changeset_id = c.id)
		AND NOT EXISTS (SELECT 1 FROM changeset_tags ct WHERE ct.changeset_id = c.id)`
	result, err := s.DB.ExecContext(ctx, q, olderThan)
	if err != nil {
		return 0, &SQLError{q, err}
	}
	return result.RowsAffected()
}

// RecordImportWindow marks the sequence range [start, end] as
// imported.
func (s *Store) RecordImportWindow(ctx context.Context, start, end int) error {
	q := `INSERT INTO import_cursor (start_seq, end_seq) VALUES ($1, $2)`
	if _, err := s.DB.ExecContext(ctx, q, start, end); err != nil {
		return &SQLError{q, err}
	}
	return nil
}

// LastImportedSequence returns the highest imported sequence, or 0
// when nothing was imported yet.
func (s *Store) LastImportedSequence(ctx context.Context) (int, error) {
	q := `SELECT coalesce(max(end_seq), 0) FROM import_cursor`
	var seq int
	if err := s.DB.QueryRowContext(ctx, q).Scan(&seq); err != nil {
		return 0, &SQLError{q, err}
	}
	return seq, nil
}

// ChangesetIDRange returns the lowest and highest known changeset id
// in a date range. ok is false if the range holds no changesets.
func (s *Store) ChangesetIDRange(ctx context.Context, start, end time.Time) (minID, maxID int64, ok bool, err error) {
	q := `SELECT min(id), max(id) FROM changesets WHERE date >= $1 AND date < $2`
	var minN, maxN sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, q, start, end).Scan(&minN, &maxN); err != nil {
		return 0, 0, false, &SQLError{q, err}
	}
	if !minN.Valid {
		return 0, 0, false, nil
	}
	return minN.Int64, maxN.Int64, true, nil
}

// MissingChangesetIDs filters the given range down to ids not yet
// stored, in batches bounded by limit.
func (s *Store) MissingChangesetIDs(ctx context.Context, minID, maxID int64, limit int) ([]int64, error) {
	q := `SELECT n FROM generate_series($1::bigint, $2::bigint) AS n
		WHERE NOT EXISTS (SELECT 1 FROM changesets c WHERE c.id = n)
		ORDER BY n LIMIT $3`
	rows, err := s.DB.QueryContext(ctx, q, minID, maxID, limit)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
