package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/errs"
	"github.com/osmcha/osmcha/store"
)

func (s *Server) listTeams(c *gin.Context) {
	teams, err := s.store.ListMappingTeams(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	if teams == nil {
		teams = []*store.MappingTeam{}
	}
	c.JSON(http.StatusOK, teams)
}

type teamRequest struct {
	Name  string             `json:"name"`
	Users []store.TeamMember `json:"users"`
}

func (s *Server) createTeam(c *gin.Context) {
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	team, err := s.store.CreateMappingTeam(c.Request.Context(), req.Name, req.Users, currentUser(c).ID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

// teamEditAllowed loads a team and checks the creator-or-staff rule.
func (s *Server) teamEditAllowed(c *gin.Context, id int64) bool {
	team, err := s.store.GetMappingTeam(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return false
	}
	user := currentUser(c)
	if !user.IsStaff && team.CreatedBy != user.ID {
		apiError(c, errs.New(errs.KindPermissionDenied, "only the creator or staff may edit a team"))
		return false
	}
	return true
}

func (s *Server) updateTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if !s.teamEditAllowed(c, id) {
		return
	}
	var req teamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	team, err := s.store.UpdateMappingTeam(c.Request.Context(), id, req.Name, req.Users)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) deleteTeam(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if !s.teamEditAllowed(c, id) {
		return
	}
	if err := s.store.DeleteMappingTeam(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) trustTeam(trusted bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := s.store.SetMappingTeamTrusted(c.Request.Context(), id, trusted); err != nil {
			apiError(c, err)
			return
		}
		team, err := s.store.GetMappingTeam(c.Request.Context(), id)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, team)
	}
}

func (s *Server) listChallenges(c *gin.Context) {
	challenges, err := s.store.ListChallenges(c.Request.Context())
	if err != nil {
		apiError(c, err)
		return
	}
	if challenges == nil {
		challenges = []*store.Challenge{}
	}
	c.JSON(http.StatusOK, challenges)
}

type challengeRequest struct {
	ChallengeID int     `json:"challenge_id" binding:"required"`
	Reasons     []int64 `json:"reasons"`
	Active      *bool   `json:"active"`
}

func (s *Server) createChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	challenge, err := s.store.CreateChallenge(c.Request.Context(), req.ChallengeID, req.Reasons, currentUser(c).ID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, challenge)
}

func (s *Server) getChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	challenge, err := s.store.GetChallenge(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) updateChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	existing, err := s.store.GetChallenge(c.Request.Context(), id)
	if err != nil {
		apiError(c, err)
		return
	}
	var req struct {
		Reasons []int64 `json:"reasons"`
		Active  *bool   `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, errs.Newf(errs.KindValidation, "invalid body: %s", err))
		return
	}
	active := existing.Active
	if req.Active != nil {
		active = *req.Active
	}
	reasons := existing.ReasonIDs
	if req.Reasons != nil {
		reasons = req.Reasons
	}
	challenge, err := s.store.UpdateChallenge(c.Request.Context(), id, active, reasons)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) deleteChallenge(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteChallenge(c.Request.Context(), id); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
