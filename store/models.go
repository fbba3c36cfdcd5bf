package store

import (
	"time"

	"github.com/osmcha/osmcha/geo"
)

type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	UID            string `json:"uid"`
	IsStaff        bool   `json:"is_staff"`
	MessageGood    string `json:"message_good"`
	MessageBad     string `json:"message_bad"`
	CommentFeature bool   `json:"comment_feature"`

	// Token is the opaque API credential; never serialized.
	Token string `json:"-"`
}

// Annotation is the shared shape of suspicion reasons and review
// tags. Reasons are machine-attached during analysis, tags are
// human-attached during review; both live in their own table.
type Annotation struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsVisible    bool   `json:"is_visible"`
	ForChangeset bool   `json:"for_changeset"`
	ForFeature   bool   `json:"for_feature"`
}

// FeatureSummary is one entry of Changeset.NewFeatures. URL is
// "<type>-<osm id>" and unique within a changeset.
type FeatureSummary struct {
	OSMID       int64             `json:"osm_id"`
	URL         string            `json:"url"`
	Version     int               `json:"version,omitempty"`
	Name        string            `json:"name,omitempty"`
	PrimaryTags map[string]string `json:"primary_tags,omitempty"`
	Reasons     []int64           `json:"reasons"`
	Note        string            `json:"note,omitempty"`
}

// ReviewedFeature marks a feature of a changeset as reviewed by a
// user. The set is keyed by URL.
type ReviewedFeature struct {
	URL  string `json:"id"`
	User string `json:"user"`
}

type Changeset struct {
	ID               int64               `json:"id"`
	User             string              `json:"user"`
	UID              string              `json:"uid"`
	Editor           string              `json:"editor"`
	PowerfulEditor   bool                `json:"powerful_editor"`
	Comment          string              `json:"comment"`
	Source           string              `json:"source"`
	ImageryUsed      string              `json:"imagery_used"`
	Date             time.Time           `json:"date"`
	Create           int                 `json:"create"`
	Modify           int                 `json:"modify"`
	Delete           int                 `json:"delete"`
	CommentsCount    int                 `json:"comments_count"`
	Bounds           geo.Bounds          `json:"-"`
	HasBounds        bool                `json:"-"`
	Area             float64             `json:"area"`
	IsSuspect        bool                `json:"is_suspect"`
	Harmful          *bool               `json:"harmful"`
	Checked          bool                `json:"checked"`
	CheckUser        *User               `json:"check_user,omitempty"`
	CheckDate        *time.Time          `json:"check_date,omitempty"`
	Metadata         map[string]string   `json:"metadata,omitempty"`
	TagChanges       map[string][]string `json:"tag_changes,omitempty"`
	NewFeatures      []FeatureSummary    `json:"new_features"`
	ReviewedFeatures []ReviewedFeature   `json:"reviewed_features"`
	Reasons          []Annotation        `json:"reasons"`
	Tags             []Annotation        `json:"tags"`
}

// OSMLink returns the changeset page on the OSM website.
func (c *Changeset) OSMLink() string {
	return "https://www.openstreetmap.org/changeset/" + itoa(c.ID)
}

// JOSMLink returns the JOSM remote control link loading this
// changeset.
func (c *Changeset) JOSMLink() string {
	return "http://127.0.0.1:8111/import?url=" +
		"https://www.openstreetmap.org/api/0.6/changeset/" + itoa(c.ID) + "/download"
}

// IDLink returns an iD editor link centered on the changeset bbox,
// or "" without a bbox.
func (c *Changeset) IDLink() string {
	if !c.HasBounds {
		return ""
	}
	lon, lat := c.Bounds.Center()
	return "https://www.openstreetmap.org/edit?editor=id#map=16/" +
		ftoa(lat) + "/" + ftoa(lon)
}

type TeamMember struct {
	Username string `json:"username"`
	UID      string `json:"uid"`
	// DOJ/DOL are dates of joining/leaving; an empty DOL marks a
	// current member.
	DOJ string `json:"doj"`
	DOL string `json:"dol"`
}

type MappingTeam struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Trusted   bool         `json:"trusted"`
	Users     []TeamMember `json:"users"`
	CreatedBy int64        `json:"created_by"`
	Date      time.Time    `json:"date"`
}

type WhitelistEntry struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"-"`
	WhitelistUser string `json:"whitelist_user"`
}

type BlacklistedUser struct {
	ID       int64     `json:"id"`
	AddedBy  int64     `json:"-"`
	UID      string    `json:"uid"`
	Username string    `json:"username"`
	Date     time.Time `json:"date"`
}

type Challenge struct {
	ID          int64     `json:"id"`
	ChallengeID int       `json:"challenge_id"`
	ReasonIDs   []int64   `json:"reasons"`
	Active      bool      `json:"active"`
	CreatedBy   int64     `json:"created_by"`
	Created     time.Time `json:"created"`
}

// ImportWindow marks a successfully ingested range of replication
// sequences.
type ImportWindow struct {
	ID    int64     `json:"id"`
	Start int       `json:"start"`
	End   int       `json:"end"`
	Date  time.Time `json:"date"`
}
