package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/integrations"
	"github.com/osmcha/osmcha/store"
)

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid %s", name))
		return 0, false
	}
	return id, true
}

func (s *Server) listChangesets(c *gin.Context) {
	filter, err := s.parseFilter(c)
	if err != nil {
		apiError(c, err)
		return
	}
	s.queryChangesets(c, filter)
}

// preset filters behind the fixed sub-list routes
type preset func(f *store.Filter)

func boolPtr(v bool) *bool { return &v }

var (
	presetSuspect   = preset(func(f *store.Filter) { f.IsSuspect = boolPtr(true) })
	presetNoSuspect = preset(func(f *store.Filter) { f.IsSuspect = boolPtr(false) })
	presetHarmful   = preset(func(f *store.Filter) { f.Harmful = boolPtr(true) })
	presetNoHarmful = preset(func(f *store.Filter) { f.Harmful = boolPtr(false) })
	presetChecked   = preset(func(f *store.Filter) { f.Checked = boolPtr(true) })
	presetUnchecked = preset(func(f *store.Filter) { f.Checked = boolPtr(false) })
)

func (s *Server) listPreset(p preset) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := s.parseFilter(c)
		if err != nil {
			apiError(c, err)
			return
		}
		p(&filter)
		s.queryChangesets(c, filter)
	}
}

func (s *Server) queryChangesets(c *gin.Context, filter store.Filter) {
	page, pageSize := s.parsePagination(c)
	result, err := s.store.Query(c.Request.Context(), filter, c.Query("order_by"), page, pageSize)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeatureCollection(result))
}

func (s *Server) getChangeset(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	changeset, err := s.store.GetChangeset(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeature(changeset))
}

type reviewRequest struct {
	Tags []int64 `json:"tags"`
}

func (s *Server) setHarmful(c *gin.Context) { s.review(c, true) }
func (s *Server) setGood(c *gin.Context)    { s.review(c, false) }

func (s *Server) review(c *gin.Context, harmful bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
			return
		}
	}
	reviewer := currentUser(c)
	var result *store.Changeset
	var err error
	if harmful {
		result, err = s.engine.SetHarmful(c.Request.Context(), id, reviewer, req.Tags)
	} else {
		result, err = s.engine.SetGood(c.Request.Context(), id, reviewer, req.Tags)
	}
	if err != nil && result == nil {
		apiError(c, err)
		return
	}
	body := gin.H{"changeset": toFeature(result)}
	if err != nil {
		// review persisted, only the comment posting failed
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) uncheck(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	changeset, err := s.engine.Uncheck(c.Request.Context(), id, currentUser(c))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFeature(changeset))
}

func (s *Server) reviewFeature(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	added, err := s.store.AddFeatureReview(c.Request.Context(), id, c.Param("feature"), currentUser(c))
	if err != nil {
		apiError(c, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"detail": "feature marked as reviewed"})
}

func (s *Server) unreviewFeature(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.store.RemoveFeatureReview(c.Request.Context(), id, c.Param("feature"), currentUser(c)); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addTag(c *gin.Context)    { s.modifyTag(c, true) }
func (s *Server) removeTag(c *gin.Context) { s.modifyTag(c, false) }

func (s *Server) modifyTag(c *gin.Context, add bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tagID, ok := pathID(c, "tagID")
	if !ok {
		return
	}
	var err error
	if add {
		err = s.store.AddChangesetTag(c.Request.Context(), id, tagID, currentUser(c))
	} else {
		err = s.store.RemoveChangesetTag(c.Request.Context(), id, tagID, currentUser(c))
	}
	if err != nil {
		apiError(c, err)
		return
	}
	if add {
		c.JSON(http.StatusCreated, gin.H{"detail": "tag added"})
		return
	}
	c.Status(http.StatusNoContent)
}

type commentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

func (s *Server) postComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	if s.commenter == nil {
		apiError(c, errs.New(errs.KindValidation, "comment posting is disabled"))
		return
	}
	if utf8.RuneCountInString(req.Comment) > integrations.MaxCommentLen {
		apiError(c, errs.Newf(errs.KindValidation,
			"comment exceeds %d characters", integrations.MaxCommentLen))
		return
	}
	if err := s.commenter.PostComment(c.Request.Context(), id, currentUser(c), req.Comment); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"detail": "comment posted"})
}

type addFeatureRequest struct {
	Changeset   int64             `json:"changeset" binding:"required"`
	OSMID       int64             `json:"osm_id" binding:"required"`
	OSMType     string            `json:"osm_type" binding:"required"`
	Version     int               `json:"version"`
	Name        string            `json:"name"`
	Note        string            `json:"note"`
	PrimaryTags map[string]string `json:"primary_tags"`
	Reasons     []string          `json:"reasons" binding:"required"`
	Feature     json.RawMessage   `json:"feature"`
}

func (s *Server) addFeature(c *gin.Context) {
	var req addFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	input := store.FeatureInput{
		ChangesetID: req.Changeset,
		OSMID:       req.OSMID,
		OSMType:     req.OSMType,
		Version:     req.Version,
		Name:        req.Name,
		Note:        req.Note,
		PrimaryTags: req.PrimaryTags,
		Reasons:     req.Reasons,
	}
	changeset, err := s.store.AddFeature(c.Request.Context(), input)
	if err != nil {
		apiError(c, err)
		return
	}

	if s.forwarder != nil && len(req.Feature) > 0 {
		reasonIDs := featureReasonIDs(changeset, input.URL())
		if err := s.forwarder.ForwardFeature(c.Request.Context(), input.URL(), reasonIDs, req.Feature); err != nil {
			c.JSON(http.StatusCreated, gin.H{
				"changeset": toFeature(changeset),
				"warning":   err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"changeset": toFeature(changeset)})
}

func featureReasonIDs(changeset *store.Changeset, url string) []int64 {
	for _, f := range changeset.NewFeatures {
		if f.URL == url {
			return f.Reasons
		}
	}
	return nil
}

func (s *Server) stats(c *gin.Context) {
	filter, err := s.parseFilter(c)
	if err != nil {
		apiError(c, err)
		return
	}
	user := currentUser(c)
	staff := user != nil && user.IsStaff
	stats, err := s.store.QueryStats(c.Request.Context(), filter, staff)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) userStats(c *gin.Context) {
	stats, err := s.store.GetUserStats(c.Request.Context(), c.Param("uid"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listReasons(c *gin.Context) { s.listAnnotations(c, true) }
func (s *Server) listTags(c *gin.Context)    { s.listAnnotations(c, false) }

func (s *Server) listAnnotations(c *gin.Context, reasons bool) {
	user := currentUser(c)
	staff := user != nil && user.IsStaff
	var (
		items []store.Annotation
		err   error
	)
	if reasons {
		items, err = s.store.ListReasons(c.Request.Context(), staff)
	} else {
		items, err = s.store.ListTags(c.Request.Context(), staff)
	}
	if err != nil {
		apiError(c, err)
		return
	}
	if items == nil {
		items = []store.Annotation{}
	}
	c.JSON(http.StatusOK, items)
}

type batchReasonRequest struct {
	Changesets []int64 `json:"changesets" binding:"required"`
}

func (s *Server) addReasonToChangesets(c *gin.Context)      { s.batchReason(c, true) }
func (s *Server) removeReasonFromChangesets(c *gin.Context) { s.batchReason(c, false) }

func (s *Server) batchReason(c *gin.Context, add bool) {
	reasonID, ok := pathID(c, "reasonID")
	if !ok {
		return
	}
	var req batchReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	var err error
	if add {
		err = s.store.AddReasonToChangesets(c.Request.Context(), reasonID, req.Changesets)
	} else {
		err = s.store.RemoveReasonFromChangesets(c.Request.Context(), reasonID, req.Changesets)
	}
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "reasons updated"})
}
