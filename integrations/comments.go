// Package integrations talks back to the outside world after
// reviews: changeset comments on osm.org and task forwarding to
// MapRoulette.
package integrations

import (
	"context"
	"strconv"
	"strings"

	"github.com/osmcha/osmcha/osm"
	"github.com/osmcha/osmcha/store"
)

const (
	HashtagGood = "#REVIEWED_GOOD #OSMCHA"
	HashtagBad  = "#REVIEWED_BAD #OSMCHA"
)

// MaxCommentLen caps the user-supplied part of a comment.
const MaxCommentLen = 1000

// BuildComment assembles the comment body posted to osm.org. The
// hashtag may be empty for comments outside a review. Over-long
// user text is cut at a rune boundary.
func BuildComment(userText, hashtag, frontendURL string, changesetID int64) string {
	if runes := []rune(userText); len(runes) > MaxCommentLen {
		userText = string(runes[:MaxCommentLen])
	}
	parts := []string{userText, "---"}
	if hashtag != "" {
		parts = append(parts, hashtag)
	}
	parts = append(parts, strings.TrimRight(frontendURL, "/")+"/changesets/"+strconv.FormatInt(changesetID, 10)+"/")
	return strings.Join(parts, "\n")
}

// Commenter posts review outcomes as changeset comments. It
// implements the review notifier hook.
type Commenter struct {
	client      *osm.Client
	store       *store.Store
	frontendURL string
	enabled     bool
}

func NewCommenter(client *osm.Client, st *store.Store, frontendURL string, enabled bool) *Commenter {
	return &Commenter{client: client, store: st, frontendURL: frontendURL, enabled: enabled}
}

// ReviewChanged posts the reviewer's default message for the
// outcome. Nothing is posted unless commenting is enabled globally
// and the reviewer opted in.
func (c *Commenter) ReviewChanged(ctx context.Context, changeset *store.Changeset, reviewer *store.User, harmful bool) error {
	if !c.enabled || !reviewer.CommentFeature {
		return nil
	}
	text := reviewer.MessageGood
	hashtag := HashtagGood
	if harmful {
		text = reviewer.MessageBad
		hashtag = HashtagBad
	}
	return c.post(ctx, changeset.ID, reviewer, text, hashtag)
}

// PostComment publishes a free-form comment on behalf of a user,
// outside of a review.
func (c *Commenter) PostComment(ctx context.Context, changesetID int64, user *store.User, text string) error {
	return c.post(ctx, changesetID, user, text, "")
}

func (c *Commenter) post(ctx context.Context, changesetID int64, user *store.User, text, hashtag string) error {
	token, err := c.store.UserToken(ctx, user.ID)
	if err != nil {
		return err
	}
	body := BuildComment(text, hashtag, c.frontendURL, changesetID)
	return c.client.PostChangesetComment(ctx, token, changesetID, body)
}
