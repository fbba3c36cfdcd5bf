package api

import (
	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/store"
)

// changesetFeature is the GeoJSON representation of one changeset.
// The geometry is the bbox polygon, or null for bboxless changesets.
type changesetFeature struct {
	Type       string      `json:"type"`
	ID         int64       `json:"id"`
	Geometry   interface{} `json:"geometry"`
	Properties gin.H       `json:"properties"`
}

type featureCollection struct {
	Type     string             `json:"type"`
	Count    int64              `json:"count"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Features []changesetFeature `json:"features"`
}

func bboxGeometry(c *store.Changeset) interface{} {
	if !c.HasBounds {
		return nil
	}
	b := c.Bounds
	ring := [][2]float64{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}, {b.MinX, b.MinY},
	}
	return gin.H{"type": "Polygon", "coordinates": [][][2]float64{ring}}
}

func toFeature(c *store.Changeset) changesetFeature {
	props := gin.H{
		"check_user":        nil,
		"user":              c.User,
		"uid":               c.UID,
		"editor":            c.Editor,
		"powerful_editor":   c.PowerfulEditor,
		"comment":           c.Comment,
		"source":            c.Source,
		"imagery_used":      c.ImageryUsed,
		"date":              c.Date,
		"create":            c.Create,
		"modify":            c.Modify,
		"delete":            c.Delete,
		"comments_count":    c.CommentsCount,
		"area":              c.Area,
		"is_suspect":        c.IsSuspect,
		"harmful":           c.Harmful,
		"checked":           c.Checked,
		"check_date":        c.CheckDate,
		"metadata":          c.Metadata,
		"tag_changes":       c.TagChanges,
		"new_features":      c.NewFeatures,
		"reviewed_features": c.ReviewedFeatures,
		"reasons":           c.Reasons,
		"tags":              c.Tags,
		"osm_link":          c.OSMLink(),
		"josm_link":         c.JOSMLink(),
		"id_link":           c.IDLink(),
	}
	if c.CheckUser != nil {
		props["check_user"] = c.CheckUser.Username
	}
	return changesetFeature{
		Type:       "Feature",
		ID:         c.ID,
		Geometry:   bboxGeometry(c),
		Properties: props,
	}
}

func toFeatureCollection(page *store.Page) featureCollection {
	features := make([]changesetFeature, 0, len(page.Items))
	for _, c := range page.Items {
		features = append(features, toFeature(c))
	}
	return featureCollection{
		Type:     "FeatureCollection",
		Count:    page.Count,
		Page:     page.Page,
		PageSize: page.PageSize,
		Features: features,
	}
}
