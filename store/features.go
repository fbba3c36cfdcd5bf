package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/osmcha/osmcha/errs"
)

// FeatureInput is one suspicious feature reported by an external
// detection tool.
type FeatureInput struct {
	ChangesetID int64
	OSMID       int64
	OSMType     string
	Version     int
	Name        string
	Note        string
	PrimaryTags map[string]string
	// Reasons are names, or decimal ids of existing reasons.
	Reasons []string
}

// URL is the feature key, unique inside a changeset.
func (f FeatureInput) URL() string {
	return f.OSMType + "-" + strconv.FormatInt(f.OSMID, 10)
}

// AddFeature merges a suspicious feature into its changeset. A stub
// changeset row is created when the changeset is not known yet.
// Reporting the same feature again unions the reason sets. Reasons
// also bind at the changeset level, so feature reasons show up in
// changeset filters.
func (s *Store) AddFeature(ctx context.Context, f FeatureInput) (*Changeset, error) {
	if f.OSMType != "node" && f.OSMType != "way" && f.OSMType != "relation" {
		return nil, errs.Newf(errs.KindValidation, "invalid osm type %q", f.OSMType)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rollbackIfTx(&tx)

	q := `INSERT INTO changesets (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, q, f.ChangesetID); err != nil {
		return nil, &SQLError{q, err}
	}

	var raw []byte
	q = `SELECT new_features FROM changesets WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, q, f.ChangesetID).Scan(&raw); err != nil {
		return nil, &SQLError{q, err}
	}
	var features []FeatureSummary
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, errors.Wrap(err, "decoding new_features")
	}

	var reasonIDs []int64
	for _, name := range f.Reasons {
		reason, err := resolveReason(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if !reason.ForFeature {
			return nil, errs.Newf(errs.KindValidation,
				"reason %q does not apply to features", reason.Name)
		}
		reasonIDs = append(reasonIDs, reason.ID)
		if err := linkReason(ctx, tx, f.ChangesetID, reason.ID); err != nil {
			return nil, err
		}
	}

	url := f.URL()
	idx := -1
	for i := range features {
		if features[i].URL == url {
			idx = i
			break
		}
	}
	if idx < 0 {
		features = append(features, FeatureSummary{
			OSMID:       f.OSMID,
			URL:         url,
			Version:     f.Version,
			Name:        f.Name,
			PrimaryTags: f.PrimaryTags,
			Reasons:     reasonIDs,
			Note:        f.Note,
		})
	} else {
		feature := &features[idx]
		feature.Version = f.Version
		if f.Name != "" {
			feature.Name = f.Name
		}
		if f.Note != "" {
			feature.Note = f.Note
		}
		if f.PrimaryTags != nil {
			feature.PrimaryTags = f.PrimaryTags
		}
		feature.Reasons = unionIDs(feature.Reasons, reasonIDs)
	}

	q = `UPDATE changesets SET new_features = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, q, f.ChangesetID, mustJSON(features)); err != nil {
		return nil, &SQLError{q, err}
	}
	if err := refreshSuspect(ctx, tx, f.ChangesetID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tx = nil
	return s.GetChangeset(ctx, f.ChangesetID)
}

// resolveReason treats a decimal string as a reason id and anything
// else as a reason name to get or create. An id that does not exist
// falls back to name lookup, so "123" never silently binds a wrong
// reason.
func resolveReason(ctx context.Context, tx *sql.Tx, name string) (Annotation, error) {
	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		a := Annotation{}
		q := `SELECT id, name, description, is_visible, for_changeset, for_feature
			FROM suspicion_reasons WHERE id = $1`
		err := tx.QueryRowContext(ctx, q, id).Scan(
			&a.ID, &a.Name, &a.Description, &a.IsVisible, &a.ForChangeset, &a.ForFeature)
		if err == nil {
			return a, nil
		}
		if err != sql.ErrNoRows {
			return Annotation{}, &SQLError{q, err}
		}
	}
	return getOrCreateAnnotation(ctx, tx, "suspicion_reasons", name)
}

func unionIDs(a, b []int64) []int64 {
	seen := map[int64]struct{}{}
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			a = append(a, id)
		}
	}
	return a
}
