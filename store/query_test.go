package store

import (
	"strings"
	"testing"
	"time"
)

func TestBuildFilterEmpty(t *testing.T) {
	b := buildFilter(Filter{})
	if b.clause() != "" {
		t.Errorf("unexpected clause %q", b.clause())
	}
	if len(b.args) != 0 {
		t.Errorf("unexpected args %v", b.args)
	}
}

func TestBuildFilterPredicates(t *testing.T) {
	checked := true
	createGTE := 100
	dateGTE := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	numReasons := 2
	f := Filter{
		Users:            []string{"mapper1", "mapper2"},
		IDs:              []int64{1, 2, 3},
		Checked:          &checked,
		CreateGTE:        &createGTE,
		DateGTE:          &dateGTE,
		Editor:           "JOSM",
		Reasons:          []int64{4},
		AllTags:          []int64{5, 6, 5},
		NumberReasonsGTE: &numReasons,
	}
	b := buildFilter(f)
	clause := b.clause()

	for _, want := range []string{
		`c."user" = ANY($1)`,
		`c.id = ANY($2)`,
		`c.checked = $3`,
		`c."create" >= $4`,
		`c.date >= $5`,
		`c.editor ILIKE '%' || $6 || '%'`,
		`cr.reason_id = ANY($7)`,
		`ct.tag_id = ANY($8)`,
	} {
		if !strings.Contains(clause, want) {
			t.Errorf("clause misses %q:\n%s", want, clause)
		}
	}
	// duplicate tag ids collapse before counting
	if b.args[8] != 2 {
		t.Errorf("all_tags count arg: got %v, want 2", b.args[8])
	}
	if len(b.args) != 10 {
		t.Errorf("got %d args, want 10", len(b.args))
	}
}

func TestBuildFilterInBBox(t *testing.T) {
	b := buildFilter(Filter{InBBox: "1.5, 2.5, 3.5, 4.5"})
	if !strings.Contains(b.clause(), `c.bbox && ST_MakeEnvelope($1, $2, $3, $4, 4326)`) {
		t.Errorf("unexpected clause %q", b.clause())
	}
	if b.args[0] != 1.5 || b.args[3] != 4.5 {
		t.Errorf("unexpected args %v", b.args)
	}

	for _, invalid := range []string{"1,2,3", "a,b,c,d"} {
		b := buildFilter(Filter{InBBox: invalid})
		if !strings.Contains(b.clause(), "FALSE") {
			t.Errorf("in_bbox=%q: expected FALSE clause, got %q", invalid, b.clause())
		}
	}
}

func TestBuildFilterGeometryArea(t *testing.T) {
	geom := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`
	b := buildFilter(Filter{Geometry: geom, AreaLT: 2})
	clause := b.clause()
	if !strings.Contains(clause, `ST_Intersects(c.bbox, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`) {
		t.Errorf("geometry clause missing:\n%s", clause)
	}
	if !strings.Contains(clause, `c.area < $2 * ST_Area(ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`) {
		t.Errorf("area clause missing:\n%s", clause)
	}
}

func TestBuildFilterTeams(t *testing.T) {
	b := buildFilter(Filter{
		MappingTeams:        []string{"DWG"},
		ExcludeTrustedTeams: true,
	})
	clause := b.clause()
	if !strings.Contains(clause, `coalesce(m->>'dol', '') = ''`) {
		t.Errorf("current-member condition missing:\n%s", clause)
	}
	if !strings.Contains(clause, `t.trusted`) {
		t.Errorf("trusted condition missing:\n%s", clause)
	}
	if !strings.Contains(clause, `NOT EXISTS`) {
		t.Errorf("exclusion must negate the membership test:\n%s", clause)
	}
}

func TestBuildFilterWhitelistBlacklist(t *testing.T) {
	b := buildFilter(Filter{
		HideWhitelist: true,
		Blacklist:     true,
		Requester:     &User{ID: 7},
	})
	clause := b.clause()
	if !strings.Contains(clause, `c."user" NOT IN (SELECT whitelist_user FROM user_whitelists`) {
		t.Errorf("whitelist condition missing:\n%s", clause)
	}
	if !strings.Contains(clause, `c.uid IN (SELECT uid FROM blacklisted_users`) {
		t.Errorf("blacklist condition missing:\n%s", clause)
	}
	// both lists belong to the requester
	if !strings.Contains(clause, `WHERE added_by = $2`) {
		t.Errorf("blacklist condition not keyed to requester:\n%s", clause)
	}
	if len(b.args) != 2 || b.args[1] != int64(7) {
		t.Errorf("unexpected args %v", b.args)
	}

	// without an authenticated requester both filters are silently
	// skipped
	b = buildFilter(Filter{HideWhitelist: true, Blacklist: true})
	if strings.Contains(b.clause(), `user_whitelists`) {
		t.Errorf("whitelist condition applied without requester:\n%s", b.clause())
	}
	if strings.Contains(b.clause(), `blacklisted_users`) {
		t.Errorf("blacklist condition applied without requester:\n%s", b.clause())
	}
}

func TestMetadataCond(t *testing.T) {
	tests := []struct {
		filter MetadataFilter
		want   string
	}{
		{MetadataFilter{Key: "host", Value: "example"}, `ILIKE`},
		{MetadataFilter{Key: "host", Value: "*"}, `c.metadata ? $1`},
		{MetadataFilter{Key: "host", Op: "exact", Value: "a"}, `= $2`},
		{MetadataFilter{Key: "changesets_count", Op: "min", Value: "5"}, `>= $2::float8`},
		{MetadataFilter{Key: "changesets_count", Op: "max", Value: "5"}, `<= $2::float8`},
		{MetadataFilter{Key: "changesets_count", Op: "min", Value: "-1.5"}, `>= $2::float8`},
		{MetadataFilter{Key: "host", Op: "bogus", Value: "a"}, `FALSE`},
	}
	for _, tt := range tests {
		b := &queryBuilder{}
		metadataCond(b, tt.filter)
		if !strings.Contains(b.clause(), tt.want) {
			t.Errorf("metadata %v: clause %q misses %q", tt.filter, b.clause(), tt.want)
		}
	}

	// non-numeric operands would raise a cast error in Postgres
	for _, op := range []string{"min", "max"} {
		b := &queryBuilder{}
		metadataCond(b, MetadataFilter{Key: "changesets_count", Op: op, Value: "abc"})
		if b.clause() != ` WHERE FALSE` {
			t.Errorf("%s with non-numeric operand: got clause %q, want FALSE", op, b.clause())
		}
		if len(b.args) != 0 {
			t.Errorf("%s with non-numeric operand must bind nothing, got %v", op, b.args)
		}
	}
}

func TestOrderClause(t *testing.T) {
	tests := []struct {
		order string
		want  string
	}{
		{"", ` ORDER BY c.id DESC`},
		{"date", ` ORDER BY c.date ASC`},
		{"-date", ` ORDER BY c.date DESC`},
		{"-check_date", ` ORDER BY c.check_date DESC`},
		{"number_reasons", ` ORDER BY ` + numberReasonsExpr + ` ASC`},
		{"bogus", ` ORDER BY c.id DESC`},
		{"uid; DROP TABLE changesets", ` ORDER BY c.id DESC`},
	}
	for _, tt := range tests {
		if got := orderClause(tt.order); got != tt.want {
			t.Errorf("orderClause(%q): got %q, want %q", tt.order, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_done\`); got != `50\%\_done\\` {
		t.Errorf("escapeLike: got %q", got)
	}
}

func TestFeatureURL(t *testing.T) {
	f := FeatureInput{OSMType: "way", OSMID: 1234}
	if f.URL() != "way-1234" {
		t.Errorf("got %q", f.URL())
	}
}

func TestUnionIDs(t *testing.T) {
	got := unionIDs([]int64{1, 2}, []int64{2, 3, 1, 4})
	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
