package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

func testContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/changesets/?"+rawQuery, nil)
	return c
}

func TestParseFilter(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, Options{})
	c := testContext(t, "users=mapper1,mapper2&checked=true&create__gte=100&ids=1,2&editor=JOSM&date__gte=2024-05-01")

	f, err := s.parseFilter(c)
	if err != nil {
		t.Fatalf("parseFilter: %s", err)
	}
	if len(f.Users) != 2 || f.Users[0] != "mapper1" {
		t.Errorf("users: got %v", f.Users)
	}
	if f.Checked == nil || !*f.Checked {
		t.Error("checked should be true")
	}
	if f.CreateGTE == nil || *f.CreateGTE != 100 {
		t.Errorf("create__gte: got %v", f.CreateGTE)
	}
	if len(f.IDs) != 2 || f.IDs[1] != 2 {
		t.Errorf("ids: got %v", f.IDs)
	}
	if f.Editor != "JOSM" {
		t.Errorf("editor: got %q", f.Editor)
	}
	if f.DateGTE == nil || f.DateGTE.Year() != 2024 {
		t.Errorf("date__gte: got %v", f.DateGTE)
	}
}

func TestParseFilterInvalid(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, Options{})
	for _, query := range []string{
		"ids=abc",
		"checked=maybe",
		"create__gte=many",
		"date__gte=yesterday",
		"area_lt=big",
	} {
		c := testContext(t, query)
		if _, err := s.parseFilter(c); !errs.Is(err, errs.KindValidation) {
			t.Errorf("query %q: expected validation error, got %v", query, err)
		}
	}
}

func TestParseMetadataParam(t *testing.T) {
	tests := []struct {
		raw  string
		want []store.MetadataFilter
	}{
		{"host=example", []store.MetadataFilter{{Key: "host", Value: "example"}}},
		{"host", []store.MetadataFilter{{Key: "host", Value: "*"}}},
		{"count__min=5", []store.MetadataFilter{{Key: "count", Op: "min", Value: "5"}}},
		{"host=a,count__max=9", []store.MetadataFilter{
			{Key: "host", Value: "a"}, {Key: "count", Op: "max", Value: "9"},
		}},
	}
	for _, tt := range tests {
		got := parseMetadataParam(tt.raw)
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.raw, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%q: got %v, want %v", tt.raw, got, tt.want)
			}
		}
	}
}

func TestParsePagination(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, Options{DefaultPageSize: 50, MaxPageSize: 500})

	c := testContext(t, "")
	page, size := s.parsePagination(c)
	if page != 1 || size != 50 {
		t.Errorf("defaults: got page=%d size=%d", page, size)
	}

	c = testContext(t, "page=3&page_size=100")
	page, size = s.parsePagination(c)
	if page != 3 || size != 100 {
		t.Errorf("explicit: got page=%d size=%d", page, size)
	}

	c = testContext(t, "page_size=9999")
	_, size = s.parsePagination(c)
	if size != 500 {
		t.Errorf("page_size should cap at 500, got %d", size)
	}
}
