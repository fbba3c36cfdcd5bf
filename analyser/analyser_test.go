package analyser

import (
	"reflect"
	"sort"
	"testing"
	"time"

	osm "github.com/omniscale/go-osm"
)

func testChangeset(tags osm.Tags) osm.Changeset {
	return osm.Changeset{
		ID:        31982803,
		UserID:    999999,
		UserName:  "suspect_user",
		CreatedAt: time.Date(2015, 6, 9, 20, 37, 14, 0, time.UTC),
		ClosedAt:  time.Date(2015, 6, 9, 20, 37, 15, 0, time.UTC),
		MaxExtent: [4]float64{-71.79, 44.21, -71.71, 44.25},
		Tags:      tags,
	}
}

func reasonsOf(rec Record) []string {
	r := append([]string(nil), rec.Reasons...)
	sort.Strings(r)
	return r
}

func TestAnalyseClean(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{
			"created_by": "iD 2.0.2",
			"comment":    "fix building outline",
		}),
		Create: 1, Modify: 3, Delete: 0,
		UserChangesets: 2000,
	})
	if rec.IsSuspect {
		t.Errorf("clean changeset flagged suspect: %v", rec.Reasons)
	}
	if rec.PowerfulEditor {
		t.Error("iD is not a powerful editor")
	}
	if rec.Editor != "iD 2.0.2" || rec.Comment != "fix building outline" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.UID != "999999" {
		t.Errorf("uid: got %q", rec.UID)
	}
	if rec.Date != time.Date(2015, 6, 9, 20, 37, 15, 0, time.UTC) {
		t.Errorf("date: got %v", rec.Date)
	}
}

func TestAnalyseNoEditor(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{"comment": "upload"}),
		Create:    2,
	})
	if !rec.PowerfulEditor {
		t.Error("missing editor must imply powerful editor")
	}
	if !rec.IsSuspect {
		t.Error("missing editor must flag the changeset")
	}
	found := false
	for _, r := range rec.Reasons {
		if r == ReasonNoEditor {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons: got %v, want %q", rec.Reasons, ReasonNoEditor)
	}
}

func TestAnalyseThresholds(t *testing.T) {
	a := New(DefaultRules())
	tests := []struct {
		name   string
		in     Input
		expect []string
	}{
		{
			"import",
			Input{Changeset: testChangeset(osm.Tags{"created_by": "iD"}), Create: 500, Modify: 10},
			[]string{ReasonPossibleImport},
		},
		{
			"large create with many modifications",
			Input{Changeset: testChangeset(osm.Tags{"created_by": "iD"}), Create: 300, Modify: 150},
			nil,
		},
		{
			"mass modification",
			Input{Changeset: testChangeset(osm.Tags{"created_by": "iD"}), Modify: 201},
			[]string{ReasonMassModification},
		},
		{
			"mass deletion",
			Input{Changeset: testChangeset(osm.Tags{"created_by": "iD"}), Delete: 31},
			[]string{ReasonMassDeletion},
		},
	}
	for _, tt := range tests {
		rec := a.Analyse(tt.in)
		got := reasonsOf(rec)
		want := append([]string(nil), tt.expect...)
		sort.Strings(want)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, want)
		}
	}
}

func TestAnalyseSuspectWords(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{
			"created_by": "iD",
			"comment":    "Import of address data",
		}),
		Create: 1,
	})
	if !rec.IsSuspect {
		t.Error("import comment must flag the changeset")
	}

	// "importante" is excluded before matching
	rec = a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{
			"created_by": "iD",
			"comment":    "una ruta importante",
		}),
		Create: 1,
	})
	if rec.IsSuspect {
		t.Errorf("excluded word matched: %v", rec.Reasons)
	}
}

func TestAnalyseNewMapper(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset:      testChangeset(osm.Tags{"created_by": "iD"}),
		UserChangesets: 3,
	})
	if got := reasonsOf(rec); !reflect.DeepEqual(got, []string{ReasonNewMapper}) {
		t.Errorf("got %v", got)
	}
}

func TestAnalyseReviewRequested(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{
			"created_by":       "iD",
			"review_requested": "yes",
		}),
		UserChangesets: 100,
	})
	if got := reasonsOf(rec); !reflect.DeepEqual(got, []string{ReasonReviewRequested}) {
		t.Errorf("got %v", got)
	}
	if rec.Metadata["review_requested"] != "yes" {
		t.Errorf("metadata: %v", rec.Metadata)
	}
}

func TestAnalyseEmptyBBox(t *testing.T) {
	a := New(DefaultRules())
	ch := testChangeset(osm.Tags{"created_by": "iD"})
	ch.MaxExtent = [4]float64{}
	rec := a.Analyse(Input{Changeset: ch})
	if !rec.Bounds.IsNil() {
		t.Error("expected nil bounds")
	}
	if rec.Area != 0 {
		t.Errorf("area: got %f, want 0", rec.Area)
	}
}

func TestAnalyseDeterministic(t *testing.T) {
	a := New(DefaultRules())
	in := Input{
		Changeset: testChangeset(osm.Tags{"comment": "import streets"}),
		Create:    5000,
	}
	first := a.Analyse(in)
	second := a.Analyse(in)
	if !reflect.DeepEqual(reasonsOf(first), reasonsOf(second)) {
		t.Errorf("not deterministic: %v vs %v", first.Reasons, second.Reasons)
	}
}

func TestFilterTagChanges(t *testing.T) {
	a := New(DefaultRules())
	rec := a.Analyse(Input{
		Changeset: testChangeset(osm.Tags{"created_by": "iD"}),
		ChangedTags: map[string][]string{
			"name":     {"Main Street", "Mian Street"},
			"obscure":  {"x"},
			"building": {},
		},
		UserChangesets: 100,
	})
	want := map[string][]string{"name": {"Main Street", "Mian Street"}}
	if !reflect.DeepEqual(rec.TagChanges, want) {
		t.Errorf("got %v, want %v", rec.TagChanges, want)
	}
}
