package ingest

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/osmcha/osmcha/geo"
	"github.com/osmcha/osmcha/osm"
)

const replicationXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="replicate_changesets.rb">
  <changeset id="100" created_at="2024-05-01T10:00:00Z" closed_at="2024-05-01T10:05:00Z" open="false" num_changes="3" user="mapper1" uid="42" min_lat="1.0" max_lat="2.0" min_lon="1.0" max_lon="2.0"/>
  <changeset id="101" created_at="2024-05-01T10:01:00Z" closed_at="2024-05-01T10:06:00Z" open="false" num_changes="5" user="mapper2" uid="43" min_lat="51.0" max_lat="52.0" min_lon="51.0" max_lon="52.0"/>
  <changeset id="102" created_at="2024-05-01T10:02:00Z" open="true" num_changes="0" user="mapper3" uid="44"/>
</osm>
`

func replicationServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "000/000/007.osm.gz") {
			http.NotFound(w, r)
			return
		}
		gz := gzip.NewWriter(w)
		defer gz.Close()
		gz.Write([]byte(replicationXML))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testIngestor(ts *httptest.Server, limiter *geo.Limiter) *Ingestor {
	client := osm.NewClient(ts.URL, ts.URL, "test")
	client.MinInterval = 0
	return New(client, nil, nil, limiter, nil, Options{})
}

func collectIDs(t *testing.T, ing *Ingestor, seq int) []int64 {
	t.Helper()
	ids := make(chan int64, 16)
	if err := ing.FilterFile(context.Background(), seq, ids); err != nil {
		t.Fatalf("FilterFile: %s", err)
	}
	close(ids)
	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	return got
}

func TestFilterFileNoLimiter(t *testing.T) {
	ing := testIngestor(replicationServer(t), nil)
	got := collectIDs(t, ing, 7)
	if len(got) != 3 {
		t.Fatalf("got ids %v, want all three", got)
	}
}

func TestFilterFileAreaFilter(t *testing.T) {
	// box around (0,0)-(10,10), only changeset 100 fits
	poly := geo.Polygon{Outer: geo.Ring{
		{Long: 0, Lat: 0}, {Long: 10, Lat: 0}, {Long: 10, Lat: 10}, {Long: 0, Lat: 10}, {Long: 0, Lat: 0},
	}}
	ing := testIngestor(replicationServer(t), geo.NewLimiter([]geo.Polygon{poly}))

	got := collectIDs(t, ing, 7)
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("got ids %v, want [100]", got)
	}
}

func TestFilterFileMissingSequence(t *testing.T) {
	ing := testIngestor(replicationServer(t), nil)
	ids := make(chan int64, 16)
	err := ing.FilterFile(context.Background(), 8, ids)
	if err == nil {
		t.Fatal("expected error for missing sequence")
	}
}

func TestLogStepName(t *testing.T) {
	if got := logStepName(7, 7); got != "Importing replication sequence 000/000/007" {
		t.Errorf("got %q", got)
	}
	if got := logStepName(7, 9); !strings.Contains(got, "000/000/007 to 000/000/009") {
		t.Errorf("got %q", got)
	}
}
