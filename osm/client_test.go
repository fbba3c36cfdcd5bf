package osm

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	osm "github.com/omniscale/go-osm"

	"github.com/osmcha/osmcha/errs"
)

func testClient(url string) *Client {
	c := NewClient(url+"/api/0.6/", url+"/replication/changesets/", "osmcha-test")
	c.MinInterval = 0
	c.RetryBackoff = time.Millisecond
	return c
}

func TestSequencePath(t *testing.T) {
	tests := []struct {
		seq  int
		path string
	}{
		{1473773, "001/473/773"},
		{3, "000/000/003"},
		{1000, "000/001/000"},
		{999999999, "999/999/999"},
	}
	for _, tt := range tests {
		if got := SequencePath(tt.seq); got != tt.path {
			t.Errorf("SequencePath(%d): got %q, want %q", tt.seq, got, tt.path)
		}
	}
}

func TestSequenceURL(t *testing.T) {
	c := NewClient("https://www.openstreetmap.org/api/0.6/",
		"https://planet.openstreetmap.org/replication/changesets/", "osmcha-test")
	want := "https://planet.openstreetmap.org/replication/changesets/001/473/773.osm.gz"
	if got := c.SequenceURL(1473773); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestParseState(t *testing.T) {
	state, err := parseState([]byte("---\nlast_run: 2019-04-11 01:29:33.597823000 +00:00\nsequence: 3342552\n"))
	if err != nil {
		t.Fatal(err)
	}
	if state.Sequence != 3342552 {
		t.Errorf("sequence: got %d, want 3342552", state.Sequence)
	}
	if state.Time.Year() != 2019 {
		t.Errorf("time: got %v", state.Time)
	}
}

func TestFetchChangeset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/0.6/changeset/31982803" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != "osmcha-test" {
			t.Errorf("user agent: got %q", ua)
		}
		io.WriteString(w, `<osm>
			<changeset id="31982803" created_at="2015-06-09T20:37:14Z" closed_at="2015-06-09T20:37:15Z"
				open="false" user="suspect_user" uid="999999" comments_count="2" changes_count="5"
				min_lat="44.2160387" min_lon="-71.7949025" max_lat="44.2551987" max_lon="-71.7116949">
				<tag k="created_by" v="JOSM/1.5 (8339 en)"/>
				<tag k="comment" v="add pois"/>
			</changeset>
		</osm>`)
	}))
	defer ts.Close()

	c := testClient(ts.URL)
	ch, err := c.FetchChangeset(context.Background(), 31982803)
	if err != nil {
		t.Fatal(err)
	}
	if ch.ID != 31982803 || ch.UserName != "suspect_user" || ch.UserID != 999999 {
		t.Errorf("unexpected changeset: %+v", ch)
	}
	if ch.Tags["created_by"] != "JOSM/1.5 (8339 en)" {
		t.Errorf("tags: %v", ch.Tags)
	}
	if len(ch.Comments) != 2 {
		t.Errorf("comments count: got %d, want 2", len(ch.Comments))
	}

	_, err = c.FetchChangeset(context.Background(), 1)
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("missing changeset: got %v, want not_found", err)
	}
}

func TestFetchChangesetCounts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<osmChange version="0.6">
			<create><node id="1" lat="1" lon="1" version="1"/></create>
			<create><node id="2" lat="1" lon="1" version="1"/></create>
			<modify><way id="3" version="2"/></modify>
			<delete><node id="4" lat="0" lon="0" version="2"/></delete>
		</osmChange>`)
	}))
	defer ts.Close()

	counts, err := testClient(ts.URL).FetchChangesetCounts(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Create != 2 || counts.Modify != 1 || counts.Delete != 1 {
		t.Errorf("got %+v", counts)
	}
}

func TestPostChangesetComment(t *testing.T) {
	var gotBody, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	err := testClient(ts.URL).PostChangesetComment(context.Background(), "token123", 31982803, "Hello & bye!")
	if err != nil {
		t.Fatal(err)
	}
	if gotBody != "text=Hello+%26+bye%21" {
		t.Errorf("body: got %q", gotBody)
	}
	if gotAuth != "Bearer token123" {
		t.Errorf("auth: got %q", gotAuth)
	}
}

func TestPostChangesetCommentError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
	}))
	defer ts.Close()

	err := testClient(ts.URL).PostChangesetComment(context.Background(), "t", 1, "x")
	if !errs.Is(err, errs.KindCommentPost) {
		t.Errorf("got %v, want comment_post_error", err)
	}
}

func TestFetchReplication(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, `<osm generator="planet">
		<changeset id="100" created_at="2019-04-11T01:00:00Z" closed_at="2019-04-11T01:01:00Z" open="false"
			user="test" uid="123" num_changes="3"
			min_lat="1" min_lon="1" max_lat="2" max_lon="2">
			<tag k="comment" v="small edit"/>
		</changeset>
		<changeset id="101" created_at="2019-04-11T01:00:00Z" closed_at="2019-04-11T01:01:00Z" open="false"
			user="other" uid="124" num_changes="1"/>
	</osm>`)
	gz.Close()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/replication/changesets/001/473/773.osm.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write(buf.Bytes())
	}))
	defer ts.Close()

	var ids []int64
	err := testClient(ts.URL).FetchReplication(context.Background(), 1473773, func(ch osm.Changeset) error {
		ids = append(ids, ch.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 100 || ids[1] != 101 {
		t.Errorf("ids: got %v", ids)
	}

	err = testClient(ts.URL).FetchReplication(context.Background(), 1, func(osm.Changeset) error { return nil })
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("missing sequence: got %v, want not_found", err)
	}
}

func TestLatestSequence(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/replication/changesets/state.yaml" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "---\nlast_run: 2019-04-11 01:29:33.597823000 +00:00\nsequence: 3342552\n")
	}))
	defer ts.Close()

	seq, err := testClient(ts.URL).LatestSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 3342552 {
		t.Errorf("got %d, want 3342552", seq)
	}
}

func TestDoRetriesOn500(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(500)
			return
		}
		io.WriteString(w, "---\nlast_run: 2019-04-11 01:29:33.597823000 +00:00\nsequence: 7\n")
	}))
	defer ts.Close()

	c := testClient(ts.URL)
	seq, err := c.LatestSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 {
		t.Errorf("got %d", seq)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}
