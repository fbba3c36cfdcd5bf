package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/geo"
	"github.com/osmcha/osmcha/store"
)

func TestToFeature(t *testing.T) {
	harmful := true
	c := &store.Changeset{
		ID:        1473773,
		User:      "mapper1",
		Bounds:    geo.Bounds{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
		HasBounds: true,
		Checked:   true,
		Harmful:   &harmful,
		CheckUser: &store.User{Username: "reviewer"},
	}
	f := toFeature(c)
	if f.Type != "Feature" || f.ID != 1473773 {
		t.Errorf("got type=%q id=%d", f.Type, f.ID)
	}
	if f.Properties["check_user"] != "reviewer" {
		t.Errorf("check_user: got %v", f.Properties["check_user"])
	}

	buf, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Geometry struct {
			Type        string         `json:"type"`
			Coordinates [][][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Geometry.Type != "Polygon" {
		t.Errorf("geometry type: got %q", decoded.Geometry.Type)
	}
	ring := decoded.Geometry.Coordinates[0]
	if len(ring) != 5 || ring[0] != ring[4] {
		t.Errorf("bbox ring must close: %v", ring)
	}
}

func TestToFeatureNoBounds(t *testing.T) {
	f := toFeature(&store.Changeset{ID: 5})
	if f.Geometry != nil {
		t.Errorf("geometry should be null, got %v", f.Geometry)
	}
}

func TestToFeatureCollection(t *testing.T) {
	page := &store.Page{
		Count:    123,
		Page:     2,
		PageSize: 50,
		Items:    []*store.Changeset{{ID: 1}, {ID: 2}},
	}
	fc := toFeatureCollection(page)
	if fc.Type != "FeatureCollection" || fc.Count != 123 || len(fc.Features) != 2 {
		t.Errorf("got %+v", fc)
	}
}

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindValidation, http.StatusBadRequest},
		{errs.KindNotFound, http.StatusNotFound},
		{errs.KindOwnChangeset, http.StatusForbidden},
		{errs.KindAlreadyChecked, http.StatusForbidden},
		// duplicate whitelist entries answer 403, not 409
		{errs.KindConflict, http.StatusForbidden},
		{errs.KindRateLimited, http.StatusTooManyRequests},
		{errs.KindNetwork, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := kindStatus[tt.kind]; got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.kind, got, tt.want)
		}
	}
}
