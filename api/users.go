package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

func (s *Server) getCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

type userSettingsRequest struct {
	MessageGood    *string `json:"message_good"`
	MessageBad     *string `json:"message_bad"`
	CommentFeature *bool   `json:"comment_feature"`
}

func (s *Server) updateUserSettings(c *gin.Context) {
	user := currentUser(c)
	var req userSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	if req.MessageGood != nil {
		user.MessageGood = *req.MessageGood
	}
	if req.MessageBad != nil {
		user.MessageBad = *req.MessageBad
	}
	if req.CommentFeature != nil {
		user.CommentFeature = *req.CommentFeature
	}
	err := s.store.UpdateUserSettings(c.Request.Context(), user.ID,
		user.MessageGood, user.MessageBad, user.CommentFeature)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listWhitelist(c *gin.Context) {
	entries, err := s.store.ListWhitelist(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		apiError(c, err)
		return
	}
	if entries == nil {
		entries = []store.WhitelistEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

type whitelistRequest struct {
	WhitelistUser string `json:"whitelist_user" binding:"required"`
}

func (s *Server) addWhitelistUser(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	entry, err := s.store.AddWhitelistUser(c.Request.Context(), currentUser(c).ID, req.WhitelistUser)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) removeWhitelistUser(c *gin.Context) {
	err := s.store.RemoveWhitelistUser(c.Request.Context(), currentUser(c).ID, c.Param("name"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listBlacklist(c *gin.Context) {
	entries, err := s.store.ListBlacklist(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	if entries == nil {
		entries = []store.BlacklistedUser{}
	}
	c.JSON(http.StatusOK, entries)
}

type blacklistRequest struct {
	UID      string `json:"uid" binding:"required"`
	Username string `json:"username"`
}

func (s *Server) addBlacklistedUser(c *gin.Context) {
	var req blacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	entry, err := s.store.AddBlacklistedUser(c.Request.Context(), currentUser(c).ID, req.UID, req.Username)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) getBlacklistedUser(c *gin.Context) {
	entry, err := s.store.GetBlacklistedUser(c.Request.Context(), c.Param("uid"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type blacklistPatchRequest struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

func (s *Server) updateBlacklistedUser(c *gin.Context) {
	var req blacklistPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	entry, err := s.store.UpdateBlacklistedUser(c.Request.Context(), c.Param("uid"), req.UID, req.Username)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) removeBlacklistedUser(c *gin.Context) {
	if err := s.store.RemoveBlacklistedUser(c.Request.Context(), c.Param("uid")); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
