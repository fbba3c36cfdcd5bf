package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// MetadataFilter is one metadata lookup. Op is empty for substring
// match, "*" for key-exists, or one of min, max, exact, contains.
type MetadataFilter struct {
	Key   string
	Op    string
	Value string
}

// Filter collects the changeset query predicates. Zero values and
// nil pointers mean "not filtered".
type Filter struct {
	// GeoJSON geometry; the changeset bbox must intersect it.
	Geometry string
	// InBBox is "minx,miny,maxx,maxy".
	InBBox string
	// AreaLT keeps changesets whose bbox area is below AreaLT times
	// the area of Geometry. Ignored without Geometry.
	AreaLT float64

	Users     []string
	UIDs      []string
	CheckedBy []string
	IDs       []int64

	Checked        *bool
	Harmful        *bool
	IsSuspect      *bool
	PowerfulEditor *bool

	CreateGTE        *int
	CreateLTE        *int
	ModifyGTE        *int
	ModifyLTE        *int
	DeleteGTE        *int
	DeleteLTE        *int
	CommentsCountGTE *int
	CommentsCountLTE *int

	DateGTE      *time.Time
	DateLTE      *time.Time
	CheckDateGTE *time.Time
	CheckDateLTE *time.Time

	Editor      string
	Comment     string
	Source      string
	ImageryUsed string

	Reasons    []int64
	Tags       []int64
	AllReasons []int64
	AllTags    []int64

	NumberReasonsGTE *int

	// HideWhitelist drops changesets of users on the requester's
	// whitelist. Blacklist keeps only changesets of blacklisted
	// uids.
	HideWhitelist bool
	Blacklist     bool
	Requester     *User

	MappingTeams        []string
	ExcludeTeams        []string
	ExcludeTrustedTeams bool

	Metadata []MetadataFilter
}

// Page is one page of a changeset query.
type Page struct {
	Count    int64        `json:"count"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Items    []*Changeset `json:"-"`
}

type queryBuilder struct {
	conds []string
	args  []interface{}
}

// bind registers an argument and returns its placeholder.
func (b *queryBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *queryBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

func (b *queryBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

const numberReasonsExpr = `(SELECT count(*) FROM changeset_reasons cr WHERE cr.changeset_id = c.id)`

func buildFilter(f Filter) *queryBuilder {
	b := &queryBuilder{}

	if f.Geometry != "" {
		g := b.bind(f.Geometry)
		b.where(`ST_Intersects(c.bbox, ST_SetSRID(ST_GeomFromGeoJSON(` + g + `), 4326))`)
		if f.AreaLT > 0 {
			b.where(`c.area < ` + b.bind(f.AreaLT) +
				` * ST_Area(ST_SetSRID(ST_GeomFromGeoJSON(` + g + `), 4326))`)
		}
	}
	if f.InBBox != "" {
		coords := strings.Split(f.InBBox, ",")
		if len(coords) != 4 {
			b.where(`FALSE`)
		} else {
			var vals [4]float64
			ok := true
			for i, c := range coords {
				v, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
				if err != nil {
					ok = false
					break
				}
				vals[i] = v
			}
			if !ok {
				b.where(`FALSE`)
			} else {
				b.where(`c.bbox && ST_MakeEnvelope(` +
					b.bind(vals[0]) + `, ` + b.bind(vals[1]) + `, ` +
					b.bind(vals[2]) + `, ` + b.bind(vals[3]) + `, 4326)`)
			}
		}
	}

	if len(f.Users) > 0 {
		b.where(`c."user" = ANY(` + b.bind(pq.Array(f.Users)) + `)`)
	}
	if len(f.UIDs) > 0 {
		b.where(`c.uid = ANY(` + b.bind(pq.Array(f.UIDs)) + `)`)
	}
	if len(f.CheckedBy) > 0 {
		b.where(`c.check_user_id IN (SELECT id FROM users WHERE username = ANY(` +
			b.bind(pq.Array(f.CheckedBy)) + `))`)
	}
	if len(f.IDs) > 0 {
		b.where(`c.id = ANY(` + b.bind(pq.Array(f.IDs)) + `)`)
	}

	boolCond(b, `c.checked`, f.Checked)
	boolCond(b, `c.harmful`, f.Harmful)
	boolCond(b, `c.is_suspect`, f.IsSuspect)
	boolCond(b, `c.powerful_editor`, f.PowerfulEditor)

	intCond(b, `c."create" >= `, f.CreateGTE)
	intCond(b, `c."create" <= `, f.CreateLTE)
	intCond(b, `c.modify >= `, f.ModifyGTE)
	intCond(b, `c.modify <= `, f.ModifyLTE)
	intCond(b, `c."delete" >= `, f.DeleteGTE)
	intCond(b, `c."delete" <= `, f.DeleteLTE)
	intCond(b, `c.comments_count >= `, f.CommentsCountGTE)
	intCond(b, `c.comments_count <= `, f.CommentsCountLTE)

	timeCond(b, `c.date >= `, f.DateGTE)
	timeCond(b, `c.date <= `, f.DateLTE)
	timeCond(b, `c.check_date >= `, f.CheckDateGTE)
	timeCond(b, `c.check_date <= `, f.CheckDateLTE)

	likeCond(b, `c.editor`, f.Editor)
	likeCond(b, `c.comment`, f.Comment)
	likeCond(b, `c.source`, f.Source)
	likeCond(b, `c.imagery_used`, f.ImageryUsed)

	if len(f.Reasons) > 0 {
		b.where(`EXISTS (SELECT 1 FROM changeset_reasons cr
			WHERE cr.changeset_id = c.id AND cr.reason_id = ANY(` + b.bind(pq.Array(f.Reasons)) + `))`)
	}
	if len(f.Tags) > 0 {
		b.where(`EXISTS (SELECT 1 FROM changeset_tags ct
			WHERE ct.changeset_id = c.id AND ct.tag_id = ANY(` + b.bind(pq.Array(f.Tags)) + `))`)
	}
	if len(f.AllReasons) > 0 {
		ids := uniqueIDs(f.AllReasons)
		b.where(`(SELECT count(DISTINCT cr.reason_id) FROM changeset_reasons cr
			WHERE cr.changeset_id = c.id AND cr.reason_id = ANY(` + b.bind(pq.Array(ids)) + `)) = ` +
			b.bind(len(ids)))
	}
	if len(f.AllTags) > 0 {
		ids := uniqueIDs(f.AllTags)
		b.where(`(SELECT count(DISTINCT ct.tag_id) FROM changeset_tags ct
			WHERE ct.changeset_id = c.id AND ct.tag_id = ANY(` + b.bind(pq.Array(ids)) + `)) = ` +
			b.bind(len(ids)))
	}
	if f.NumberReasonsGTE != nil {
		b.where(numberReasonsExpr + ` >= ` + b.bind(*f.NumberReasonsGTE))
	}

	if f.HideWhitelist && f.Requester != nil {
		b.where(`c."user" NOT IN (SELECT whitelist_user FROM user_whitelists
			WHERE user_id = ` + b.bind(f.Requester.ID) + `)`)
	}
	if f.Blacklist && f.Requester != nil {
		b.where(`c.uid IN (SELECT uid FROM blacklisted_users
			WHERE added_by = ` + b.bind(f.Requester.ID) + `)`)
	}

	if len(f.MappingTeams) > 0 {
		b.where(teamMemberCond(b, f.MappingTeams, ``))
	}
	if len(f.ExcludeTeams) > 0 {
		b.where(`NOT ` + teamMemberCond(b, f.ExcludeTeams, ``))
	}
	if f.ExcludeTrustedTeams {
		b.where(`NOT ` + teamMemberCond(b, nil, `t.trusted`))
	}

	for _, m := range f.Metadata {
		metadataCond(b, m)
	}
	return b
}

func boolCond(b *queryBuilder, col string, v *bool) {
	if v != nil {
		b.where(col + ` = ` + b.bind(*v))
	}
}

func intCond(b *queryBuilder, prefix string, v *int) {
	if v != nil {
		b.where(prefix + b.bind(*v))
	}
}

func timeCond(b *queryBuilder, prefix string, v *time.Time) {
	if v != nil {
		b.where(prefix + b.bind(*v))
	}
}

func likeCond(b *queryBuilder, col string, v string) {
	if v != "" {
		b.where(col + ` ILIKE '%' || ` + b.bind(escapeLike(v)) + ` || '%'`)
	}
}

func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	return v
}

// teamMemberCond matches changesets whose user is a current member
// of one of the named teams. Members with a leaving date are not
// current.
func teamMemberCond(b *queryBuilder, names []string, extra string) string {
	cond := `EXISTS (SELECT 1 FROM mapping_teams t,
		jsonb_array_elements(t.users) AS m
		WHERE m->>'username' = c."user"
		AND coalesce(m->>'dol', '') = ''`
	if len(names) > 0 {
		cond += ` AND t.name = ANY(` + b.bind(pq.Array(names)) + `)`
	}
	if extra != "" {
		cond += ` AND ` + extra
	}
	return cond + `)`
}

const numericRe = `'^-?\d+(\.\d+)?$'`

func metadataCond(b *queryBuilder, m MetadataFilter) {
	if m.Op == "min" || m.Op == "max" {
		if _, err := strconv.ParseFloat(m.Value, 64); err != nil {
			// non-numeric operand would raise a cast error in Postgres
			b.where(`FALSE`)
			return
		}
	}
	key := b.bind(m.Key)
	val := `c.metadata->>` + key
	switch m.Op {
	case "":
		if m.Value == "*" {
			b.where(`c.metadata ? ` + key)
		} else {
			b.where(val + ` ILIKE '%' || ` + b.bind(escapeLike(m.Value)) + ` || '%'`)
		}
	case "exact":
		b.where(val + ` = ` + b.bind(m.Value))
	case "contains":
		b.where(val + ` ILIKE '%' || ` + b.bind(escapeLike(m.Value)) + ` || '%'`)
	case "min":
		b.where(`CASE WHEN ` + val + ` ~ ` + numericRe +
			` THEN (` + val + `)::float8 >= ` + b.bind(m.Value) + `::float8 ELSE FALSE END`)
	case "max":
		b.where(`CASE WHEN ` + val + ` ~ ` + numericRe +
			` THEN (` + val + `)::float8 <= ` + b.bind(m.Value) + `::float8 ELSE FALSE END`)
	default:
		// unknown lookup matches nothing
		b.where(`FALSE`)
	}
}

var orderColumns = map[string]string{
	"id":             `c.id`,
	"date":           `c.date`,
	"check_date":     `c.check_date`,
	"create":         `c."create"`,
	"modify":         `c.modify`,
	"delete":         `c."delete"`,
	"comments_count": `c.comments_count`,
	"number_reasons": numberReasonsExpr,
}

// orderClause maps a user-supplied ordering to a safe ORDER BY.
// Unknown fields fall back to newest first.
func orderClause(order string) string {
	desc := strings.HasPrefix(order, "-")
	field := strings.TrimPrefix(order, "-")
	col, ok := orderColumns[field]
	if !ok {
		return ` ORDER BY c.id DESC`
	}
	if desc {
		return ` ORDER BY ` + col + ` DESC`
	}
	return ` ORDER BY ` + col + ` ASC`
}

// Query runs a filtered, ordered, paginated changeset query.
func (s *Store) Query(ctx context.Context, f Filter, order string, page, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	if page < 1 {
		page = 1
	}

	b := buildFilter(f)
	result := &Page{Page: page, PageSize: pageSize}

	countQ := `SELECT count(*) FROM changesets c` + b.clause()
	if err := s.DB.QueryRowContext(ctx, countQ, b.args...).Scan(&result.Count); err != nil {
		return nil, &SQLError{countQ, err}
	}

	q := selectChangesetSQL + b.clause() + orderClause(order) +
		` LIMIT ` + b.bind(pageSize) + ` OFFSET ` + b.bind((page-1)*pageSize)
	rows, err := s.DB.QueryContext(ctx, q, b.args...)
	if err != nil {
		return nil, &SQLError{q, err}
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadAnnotationsMany(ctx, result.Items); err != nil {
		return nil, err
	}
	return result, nil
}

// loadAnnotationsMany attaches reasons and tags to a result page
// with one query per join table.
func (s *Store) loadAnnotationsMany(ctx context.Context, items []*Changeset) error {
	if len(items) == 0 {
		return nil
	}
	byID := make(map[int64]*Changeset, len(items))
	ids := make([]int64, 0, len(items))
	for _, c := range items {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	load := func(joinTable, table, fk string, assign func(c *Changeset, a Annotation)) error {
		q := `SELECT j.changeset_id, a.id, a.name, a.description, a.is_visible, a.for_changeset, a.for_feature
			FROM ` + table + ` a
			JOIN ` + joinTable + ` j ON j.` + fk + ` = a.id
			WHERE j.changeset_id = ANY($1) ORDER BY a.id`
		rows, err := s.DB.QueryContext(ctx, q, pq.Array(ids))
		if err != nil {
			return &SQLError{q, err}
		}
		defer rows.Close()
		for rows.Next() {
			var changesetID int64
			a := Annotation{}
			if err := rows.Scan(&changesetID, &a.ID, &a.Name, &a.Description, &a.IsVisible, &a.ForChangeset, &a.ForFeature); err != nil {
				return err
			}
			if c, ok := byID[changesetID]; ok {
				assign(c, a)
			}
		}
		return rows.Err()
	}

	if err := load("changeset_reasons", "suspicion_reasons", "reason_id",
		func(c *Changeset, a Annotation) { c.Reasons = append(c.Reasons, a) }); err != nil {
		return err
	}
	return load("changeset_tags", "tags", "tag_id",
		func(c *Changeset, a Annotation) { c.Tags = append(c.Tags, a) })
}
