package store

import "context"

// Stats is the rollup over a filtered changeset set.
type Stats struct {
	Changesets                 int64           `json:"changesets"`
	CheckedChangesets          int64           `json:"checked_changesets"`
	HarmfulChangesets          int64           `json:"harmful_changesets"`
	UsersWithHarmfulChangesets int64           `json:"users_with_harmful_changesets"`
	Reasons                    []BreakdownItem `json:"reasons"`
	Tags                       []BreakdownItem `json:"tags"`
}

// BreakdownItem is the per-reason or per-tag slice of a rollup.
type BreakdownItem struct {
	Name              string `json:"name"`
	Changesets        int64  `json:"changesets"`
	CheckedChangesets int64  `json:"checked_changesets"`
	HarmfulChangesets int64  `json:"harmful_changesets"`
}

// QueryStats computes totals and per-reason/per-tag breakdowns over
// the filtered set. Non-staff callers only see visible reasons and
// tags in the breakdowns.
func (s *Store) QueryStats(ctx context.Context, f Filter, staff bool) (*Stats, error) {
	b := buildFilter(f)
	stats := &Stats{}

	q := `SELECT count(*),
			count(*) FILTER (WHERE c.checked),
			count(*) FILTER (WHERE c.harmful),
			count(DISTINCT c."user") FILTER (WHERE c.harmful)
		FROM changesets c` + b.clause()
	err := s.DB.QueryRowContext(ctx, q, b.args...).Scan(
		&stats.Changesets, &stats.CheckedChangesets,
		&stats.HarmfulChangesets, &stats.UsersWithHarmfulChangesets)
	if err != nil {
		return nil, &SQLError{q, err}
	}

	stats.Reasons, err = s.breakdown(ctx, b, "changeset_reasons", "suspicion_reasons", "reason_id", staff)
	if err != nil {
		return nil, err
	}
	stats.Tags, err = s.breakdown(ctx, b, "changeset_tags", "tags", "tag_id", staff)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) breakdown(ctx context.Context, b *queryBuilder, joinTable, table, fk string, staff bool) ([]BreakdownItem, error) {
	visible := ``
	if !staff {
		visible = ` AND a.is_visible`
	}
	q := `SELECT a.name, count(*),
			count(*) FILTER (WHERE c.checked),
			count(*) FILTER (WHERE c.harmful)
		FROM changesets c
		JOIN ` + joinTable + ` j ON j.changeset_id = c.id
		JOIN ` + table + ` a ON a.id = j.` + fk + visible
	if clause := b.clause(); clause != "" {
		q += clause
	}
	q += ` GROUP BY a.name ORDER BY count(*) DESC, a.name`

	rows, err := s.DB.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	var items []BreakdownItem
	for rows.Next() {
		item := BreakdownItem{}
		if err := rows.Scan(&item.Name, &item.Changesets, &item.CheckedChangesets, &item.HarmfulChangesets); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UserStats is the review summary for one mapper.
type UserStats struct {
	ChangesetsInOSMCha int64 `json:"changesets_in_osmcha"`
	CheckedChangesets  int64 `json:"checked_changesets"`
	HarmfulChangesets  int64 `json:"harmful_changesets"`
}

// GetUserStats summarizes the stored changesets of one OSM uid.
func (s *Store) GetUserStats(ctx context.Context, uid string) (*UserStats, error) {
	q := `SELECT count(*),
			count(*) FILTER (WHERE checked),
			count(*) FILTER (WHERE harmful)
		FROM changesets WHERE uid = $1`
	stats := &UserStats{}
	err := s.DB.QueryRowContext(ctx, q, uid).Scan(
		&stats.ChangesetsInOSMCha, &stats.CheckedChangesets, &stats.HarmfulChangesets)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	return stats, nil
}
