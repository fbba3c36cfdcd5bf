package store

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/osmcha/osmcha/errs"
)

// systemStore connects to the database named by
// OSMCHA_TEST_CONNECTION and resets all tables. Standard libpq
// variables (PGHOST etc.) apply.
func systemStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("system test skipped with -test.short")
	}
	conn := os.Getenv("OSMCHA_TEST_CONNECTION")
	if conn == "" {
		t.Skip("system test skipped, OSMCHA_TEST_CONNECTION not set")
	}
	st, err := Open(conn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	_, err = st.DB.Exec(`TRUNCATE users, suspicion_reasons, tags, changesets,
		blacklisted_users, mapping_teams, challenge_integrations, import_cursor
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func testUser(t *testing.T, st *Store, username, uid string, staff bool) *User {
	t.Helper()
	ctx := context.Background()
	u, err := st.EnsureUser(ctx, username, uid, "token-"+username)
	if err != nil {
		t.Fatal(err)
	}
	if staff {
		if _, err := st.DB.Exec(`UPDATE users SET is_staff = TRUE WHERE id = $1`, u.ID); err != nil {
			t.Fatal(err)
		}
		u.IsStaff = true
	}
	return u
}

func testRecord(id int64, user, uid string) ChangesetRecord {
	return ChangesetRecord{
		ID:      id,
		User:    user,
		UID:     uid,
		Editor:  "JOSM/1.5",
		Comment: "adding buildings",
		Date:    time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Create:  10,
		Modify:  2,
	}
}

func TestUpsertKeepsReviewState(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	reviewer := testUser(t, st, "rev", "100", false)

	rec := testRecord(1001, "mapper", "200")
	rec.Reasons = []string{"mass modification"}
	if err := st.UpsertChangeset(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := st.ReviewChangeset(ctx, 1001, reviewer, true, nil); err != nil {
		t.Fatal(err)
	}

	// re-analysis must not touch the review
	rec.Modify = 50
	if err := st.UpsertChangeset(ctx, rec); err != nil {
		t.Fatal(err)
	}

	c, err := st.GetChangeset(ctx, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Checked || c.Harmful == nil || !*c.Harmful {
		t.Errorf("review state lost: checked=%v harmful=%v", c.Checked, c.Harmful)
	}
	if c.CheckUser == nil || c.CheckUser.Username != "rev" {
		t.Errorf("check user lost: %+v", c.CheckUser)
	}
	if c.Modify != 50 {
		t.Errorf("counts not refreshed: modify=%d", c.Modify)
	}
	if len(c.Reasons) != 1 || !c.IsSuspect {
		t.Errorf("repeated upsert must link the reason once: %d reasons, suspect=%v",
			len(c.Reasons), c.IsSuspect)
	}
}

func TestReviewUncheckRoundTrip(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	reviewer := testUser(t, st, "rev", "100", false)
	other := testUser(t, st, "other", "101", false)

	if err := st.UpsertChangeset(ctx, testRecord(1002, "mapper", "200")); err != nil {
		t.Fatal(err)
	}
	if err := st.ReviewChangeset(ctx, 1002, reviewer, false, nil); err != nil {
		t.Fatal(err)
	}

	err := st.ReviewChangeset(ctx, 1002, other, true, nil)
	if !errs.Is(err, errs.KindAlreadyChecked) {
		t.Fatalf("second review: got %v, want already_checked", err)
	}
	err = st.UncheckChangeset(ctx, 1002, other)
	if !errs.Is(err, errs.KindPermissionDenied) {
		t.Fatalf("uncheck by other user: got %v, want permission_denied", err)
	}

	if err := st.UncheckChangeset(ctx, 1002, reviewer); err != nil {
		t.Fatal(err)
	}
	c, err := st.GetChangeset(ctx, 1002)
	if err != nil {
		t.Fatal(err)
	}
	if c.Checked || c.Harmful != nil || c.CheckUser != nil || c.CheckDate != nil {
		t.Errorf("uncheck left review state: %+v", c)
	}

	err = st.UncheckChangeset(ctx, 1002, reviewer)
	if !errs.Is(err, errs.KindUnchecked) {
		t.Errorf("uncheck of unchecked: got %v, want unchecked", err)
	}
}

func TestReviewOwnChangeset(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	mapper := testUser(t, st, "mapper", "200", false)

	if err := st.UpsertChangeset(ctx, testRecord(1003, "mapper", "200")); err != nil {
		t.Fatal(err)
	}
	err := st.ReviewChangeset(ctx, 1003, mapper, true, nil)
	if !errs.Is(err, errs.KindOwnChangeset) {
		t.Fatalf("got %v, want own_changeset", err)
	}
	c, err := st.GetChangeset(ctx, 1003)
	if err != nil {
		t.Fatal(err)
	}
	if c.Checked {
		t.Error("rejected review must not change state")
	}
}

func TestFeatureReviewIdempotent(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	reviewer := testUser(t, st, "rev", "100", false)

	if err := st.UpsertChangeset(ctx, testRecord(1004, "mapper", "200")); err != nil {
		t.Fatal(err)
	}
	added, err := st.AddFeatureReview(ctx, 1004, "node-42", reviewer)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	added, err = st.AddFeatureReview(ctx, 1004, "node-42", reviewer)
	if err != nil || added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	c, err := st.GetChangeset(ctx, 1004)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.ReviewedFeatures) != 1 {
		t.Fatalf("got %d reviewed features, want 1", len(c.ReviewedFeatures))
	}

	if err := st.RemoveFeatureReview(ctx, 1004, "node-42", reviewer); err != nil {
		t.Fatal(err)
	}
	err = st.RemoveFeatureReview(ctx, 1004, "node-42", reviewer)
	if !errs.Is(err, errs.KindNotPresent) {
		t.Errorf("second remove: got %v, want not_present", err)
	}
}

func TestAddFeatureMergesReasons(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()

	base := FeatureInput{
		ChangesetID: 1005,
		OSMID:       87765444,
		OSMType:     "node",
		Version:     3,
		Name:        "Salt & Pepper",
	}
	first := base
	first.Reasons = []string{"new mapper edits"}
	if _, err := st.AddFeature(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := base
	second.Reasons = []string{"dragged highway"}
	c, err := st.AddFeature(ctx, second)
	if err != nil {
		t.Fatal(err)
	}

	if len(c.NewFeatures) != 1 {
		t.Fatalf("got %d feature summaries, want 1", len(c.NewFeatures))
	}
	if got := len(c.NewFeatures[0].Reasons); got != 2 {
		t.Errorf("feature reasons not unioned: got %d, want 2", got)
	}
	if got := len(c.Reasons); got != 2 {
		t.Errorf("changeset reasons missing: got %d, want 2", got)
	}
	if !c.IsSuspect {
		t.Error("feature reasons must flag the changeset suspect")
	}
}

func TestFeatureReasonApplicability(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()

	var reasonID int64
	err := st.DB.QueryRow(`INSERT INTO suspicion_reasons (name, for_feature)
		VALUES ('changesets only', FALSE) RETURNING id`).Scan(&reasonID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = st.AddFeature(ctx, FeatureInput{
		ChangesetID: 1006,
		OSMID:       1,
		OSMType:     "way",
		Reasons:     []string{strconv.FormatInt(reasonID, 10)},
	})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("got %v, want validation_error", err)
	}
}

func TestChangesetReasonApplicability(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()

	var reasonID int64
	err := st.DB.QueryRow(`INSERT INTO suspicion_reasons (name, for_changeset)
		VALUES ('features only', FALSE) RETURNING id`).Scan(&reasonID)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertChangeset(ctx, testRecord(1007, "mapper", "200")); err != nil {
		t.Fatal(err)
	}

	_, err = st.AttachReason(ctx, 1007, "features only")
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("attach: got %v, want validation_error", err)
	}
	err = st.AddReasonToChangesets(ctx, reasonID, []int64{1007})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("batch attach: got %v, want validation_error", err)
	}
}

func TestSweepPreconditions(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	reviewer := testUser(t, st, "rev", "100", false)

	old := testRecord(1008, "mapper", "200")
	old.Date = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := st.UpsertChangeset(ctx, old); err != nil {
		t.Fatal(err)
	}

	flagged := testRecord(1009, "mapper", "200")
	flagged.Date = old.Date
	flagged.Reasons = []string{"mass deletion"}
	if err := st.UpsertChangeset(ctx, flagged); err != nil {
		t.Fatal(err)
	}

	checked := testRecord(1010, "mapper2", "201")
	checked.Date = old.Date
	if err := st.UpsertChangeset(ctx, checked); err != nil {
		t.Fatal(err)
	}
	if err := st.ReviewChangeset(ctx, 1010, reviewer, false, nil); err != nil {
		t.Fatal(err)
	}

	n, err := st.Sweep(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d changesets, want 1", n)
	}
	if _, err := st.GetChangeset(ctx, 1008); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("bare unchecked changeset must be swept, got %v", err)
	}
	for _, id := range []int64{1009, 1010} {
		if _, err := st.GetChangeset(ctx, id); err != nil {
			t.Errorf("changeset %d must survive the sweep: %v", id, err)
		}
	}
}

func TestBlacklistFilterPerRequester(t *testing.T) {
	st := systemStore(t)
	ctx := context.Background()
	alice := testUser(t, st, "alice", "1", true)
	bob := testUser(t, st, "bob", "2", true)

	if err := st.UpsertChangeset(ctx, testRecord(1011, "vandal1", "300")); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertChangeset(ctx, testRecord(1012, "vandal2", "301")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddBlacklistedUser(ctx, alice.ID, "300", "vandal1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddBlacklistedUser(ctx, bob.ID, "301", "vandal2"); err != nil {
		t.Fatal(err)
	}

	page, err := st.Query(ctx, Filter{Blacklist: true, Requester: alice}, "", 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if page.Count != 1 || len(page.Items) != 1 || page.Items[0].ID != 1011 {
		t.Fatalf("alice's blacklist filter matched %d changesets, want only 1011", page.Count)
	}
}
