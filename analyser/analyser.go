// Package analyser derives review metadata from raw OSM changesets:
// bounding box, area, extracted metadata, the powerful-editor flag
// and the list of suspicion reasons.
package analyser

import (
	"strconv"
	"strings"
	"time"

	osm "github.com/omniscale/go-osm"

	"github.com/osmcha/osmcha/geo"
)

// Reason names attached by the default rule set. The store
// get-or-creates reasons by name, so renaming a rule only creates a
// new reason record.
const (
	ReasonPossibleImport    = "possible import"
	ReasonMassModification  = "mass modification"
	ReasonMassDeletion      = "mass deletion"
	ReasonSuspectWord       = "suspect_word"
	ReasonNoEditor          = "Software editor was not declared"
	ReasonNewMapper         = "New mapper"
	ReasonReviewRequested   = "Review requested"
	ReasonUnknownIterations = "Several iterations in a short period"
)

// Rules holds the tunable thresholds of the analysis. The zero value
// is not usable; start from DefaultRules.
type Rules struct {
	CreateThreshold     int
	ModifyThreshold     int
	DeleteThreshold     int
	PercentageOfNew     float64
	TopThreshold        int
	NewMapperEdits      int
	SuspectWords        []string
	ExcludedWords       []string
	PowerfulEditors     []string
	WatchedTagKeys      []string
	MetadataTagPrefixes []string
}

func DefaultRules() Rules {
	return Rules{
		CreateThreshold: 200,
		ModifyThreshold: 200,
		DeleteThreshold: 30,
		PercentageOfNew: 0.7,
		TopThreshold:    1000,
		NewMapperEdits:  5,
		SuspectWords: []string{
			"import", "wikipedia", "google", "waze", "here maps",
			"tomtom", "garmin", "nokia",
		},
		ExcludedWords: []string{
			"importante", "important",
		},
		PowerfulEditors: []string{
			"JOSM", "Merkaartor", "level0", "QGIS", "ArcGis", "bulk_upload.py",
			"bulkyosm", "osmapi", "Services_OpenStreetMap",
		},
		WatchedTagKeys: []string{
			"name", "highway", "building", "landuse", "natural", "place",
			"boundary", "amenity",
		},
		MetadataTagPrefixes: []string{
			"host", "locale", "changesets_count", "hashtags",
			"resolved:", "warnings:", "review_requested",
		},
	}
}

// Record is the result of analysing one changeset. It is the unit
// the store persists.
type Record struct {
	ID             int64
	User           string
	UID            string
	Editor         string
	PowerfulEditor bool
	Comment        string
	Source         string
	ImageryUsed    string
	Date           time.Time
	Create         int
	Modify         int
	Delete         int
	Bounds         geo.Bounds
	Area           float64
	IsSuspect      bool
	Reasons        []string
	Metadata       map[string]string
	TagChanges     map[string][]string
	CommentsCount  int
}

// Analyser applies a fixed rule set. Same input always yields the
// same output.
type Analyser struct {
	rules Rules
}

func New(rules Rules) *Analyser {
	return &Analyser{rules: rules}
}

// Input bundles everything the rules look at.
type Input struct {
	Changeset osm.Changeset
	// Create, Modify, Delete are the per-action element counts from
	// the osmChange download.
	Create int
	Modify int
	Delete int
	// UserChangesets is the number of changesets the user has
	// submitted in total; 0 if unknown.
	UserChangesets int
	// ChangedTags lists the tag values seen on modified elements,
	// keyed by tag key. Optional, produced by an external analyser.
	ChangedTags map[string][]string
}

// Analyse produces the record for a raw changeset.
func (a *Analyser) Analyse(in Input) Record {
	ch := in.Changeset
	bounds := geo.BoundsFromExtent(ch.MaxExtent)

	rec := Record{
		ID:             ch.ID,
		User:           ch.UserName,
		UID:            itoa(int64(ch.UserID)),
		Editor:         ch.Tags["created_by"],
		Comment:        ch.Tags["comment"],
		Source:         ch.Tags["source"],
		ImageryUsed:    ch.Tags["imagery_used"],
		Create:         in.Create,
		Modify:         in.Modify,
		Delete:         in.Delete,
		Bounds:         bounds,
		Area:           bounds.Area(),
		Metadata:       a.extractMetadata(ch.Tags),
		TagChanges:     a.filterTagChanges(in.ChangedTags),
		CommentsCount:  len(ch.Comments),
	}
	rec.Date = ch.ClosedAt
	if rec.Date.IsZero() {
		rec.Date = ch.CreatedAt
	}

	rec.PowerfulEditor = a.powerfulEditor(rec.Editor)
	rec.Reasons = a.applyRules(rec, in)
	rec.IsSuspect = len(rec.Reasons) > 0
	return rec
}

func (a *Analyser) applyRules(rec Record, in Input) []string {
	var reasons []string
	add := func(name string) {
		for _, r := range reasons {
			if r == name {
				return
			}
		}
		reasons = append(reasons, name)
	}

	if rec.Editor == "" {
		add(ReasonNoEditor)
	}
	if in.Create > a.rules.CreateThreshold &&
		fraction(in.Create, in.Create+in.Modify+in.Delete) > a.rules.PercentageOfNew {
		add(ReasonPossibleImport)
	} else if in.Create > a.rules.TopThreshold {
		add(ReasonPossibleImport)
	}
	if in.Modify > a.rules.ModifyThreshold {
		add(ReasonMassModification)
	}
	if in.Delete > a.rules.DeleteThreshold {
		add(ReasonMassDeletion)
	}
	if a.hasSuspectWord(rec.Comment) || a.hasSuspectWord(rec.Source) || a.hasSuspectWord(rec.ImageryUsed) {
		add(ReasonSuspectWord)
	}
	if in.UserChangesets > 0 && in.UserChangesets <= a.rules.NewMapperEdits {
		add(ReasonNewMapper)
	}
	if in.Changeset.Tags["review_requested"] == "yes" {
		add(ReasonReviewRequested)
	}
	return reasons
}

func fraction(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func (a *Analyser) hasSuspectWord(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, excluded := range a.rules.ExcludedWords {
		lower = strings.ReplaceAll(lower, strings.ToLower(excluded), "")
	}
	for _, word := range a.rules.SuspectWords {
		if strings.Contains(lower, strings.ToLower(word)) {
			return true
		}
	}
	return false
}

// powerfulEditor matches the editor string against the configured
// set of bulk-capable editors. An empty editor string counts as
// powerful since the software did not declare itself.
func (a *Analyser) powerfulEditor(editor string) bool {
	if editor == "" {
		return true
	}
	lower := strings.ToLower(editor)
	for _, e := range a.rules.PowerfulEditors {
		if strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// extractMetadata flattens the changeset tags into the metadata map,
// skipping the attributes that are stored as dedicated columns.
func (a *Analyser) extractMetadata(tags osm.Tags) map[string]string {
	meta := map[string]string{}
	for key, value := range tags {
		switch key {
		case "comment", "source", "imagery_used", "created_by":
			continue
		}
		for _, prefix := range a.rules.MetadataTagPrefixes {
			if key == prefix || strings.HasPrefix(key, prefix) {
				meta[key] = value
				break
			}
		}
	}
	return meta
}

func (a *Analyser) filterTagChanges(changed map[string][]string) map[string][]string {
	if len(changed) == 0 {
		return nil
	}
	result := map[string][]string{}
	for _, key := range a.rules.WatchedTagKeys {
		if values, ok := changed[key]; ok && len(values) > 0 {
			result[key] = values
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// itoa formats a uid, mapping the zero uid (anonymous edits in old
// replication files) to the empty string.
func itoa(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
