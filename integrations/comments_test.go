package integrations

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBuildComment(t *testing.T) {
	got := BuildComment("Thanks for fixing this!", HashtagGood, "https://osmcha.org", 1234)
	want := "Thanks for fixing this!\n---\n#REVIEWED_GOOD #OSMCHA\nhttps://osmcha.org/changesets/1234/"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildCommentBad(t *testing.T) {
	got := BuildComment("Please revert.", HashtagBad, "https://osmcha.org/", 99)
	if !strings.Contains(got, "#REVIEWED_BAD #OSMCHA") {
		t.Errorf("missing bad hashtag: %q", got)
	}
	if strings.Contains(got, "org//changesets") {
		t.Errorf("double slash in link: %q", got)
	}
}

func TestBuildCommentNoHashtag(t *testing.T) {
	got := BuildComment("Just a question.", "", "https://osmcha.org", 5)
	want := "Just a question.\n---\nhttps://osmcha.org/changesets/5/"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildCommentTruncates(t *testing.T) {
	long := strings.Repeat("x", MaxCommentLen+50)
	got := BuildComment(long, HashtagGood, "https://osmcha.org", 5)
	if strings.Count(got, "x") != MaxCommentLen {
		t.Errorf("user text not capped at %d chars", MaxCommentLen)
	}

	// multi-byte text is cut between runes, never inside one
	long = strings.Repeat("ü", MaxCommentLen+50)
	got = BuildComment(long, HashtagGood, "https://osmcha.org", 5)
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
	if strings.Count(got, "ü") != MaxCommentLen {
		t.Errorf("user text not capped at %d runes", MaxCommentLen)
	}
}
