// Package api exposes the REST surface: changeset queries as
// GeoJSON, the review workflow, and the social features around it.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/osmcha/osmcha/integrations"
	"github.com/osmcha/osmcha/review"
	"github.com/osmcha/osmcha/store"
)

type Server struct {
	store     *store.Store
	engine    *review.Engine
	commenter *integrations.Commenter
	forwarder *integrations.TaskForwarder

	defaultPageSize int
	maxPageSize     int
}

type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func NewServer(st *store.Store, engine *review.Engine, commenter *integrations.Commenter, forwarder *integrations.TaskForwarder, opts Options) *Server {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 500
	}
	return &Server{
		store:           st,
		engine:          engine,
		commenter:       commenter,
		forwarder:       forwarder,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.authenticate())

	changesets := r.Group("/changesets")
	{
		changesets.GET("/", s.listChangesets)
		changesets.GET("/suspect/", s.listPreset(presetSuspect))
		changesets.GET("/no-suspect/", s.listPreset(presetNoSuspect))
		changesets.GET("/harmful/", s.listPreset(presetHarmful))
		changesets.GET("/no-harmful/", s.listPreset(presetNoHarmful))
		changesets.GET("/checked/", s.listPreset(presetChecked))
		changesets.GET("/unchecked/", s.listPreset(presetUnchecked))
		changesets.POST("/add-feature/", s.requireStaff, s.addFeature)
		changesets.GET("/:id/", s.getChangeset)

		authed := changesets.Group("/:id", s.requireAuth)
		{
			authed.PUT("/set-harmful/", s.setHarmful)
			authed.PUT("/set-good/", s.setGood)
			authed.PUT("/uncheck/", s.uncheck)
			authed.PUT("/review-feature/:feature/", s.reviewFeature)
			authed.DELETE("/review-feature/:feature/", s.unreviewFeature)
			authed.POST("/tags/:tagID/", s.addTag)
			authed.DELETE("/tags/:tagID/", s.removeTag)
			authed.POST("/comment/", s.postComment)
		}
	}

	r.POST("/features/create/", s.requireStaff, s.addFeature)

	r.GET("/stats/", s.stats)
	r.GET("/user-stats/:uid/", s.userStats)
	r.GET("/suspicion-reasons/", s.listReasons)
	r.GET("/tags/", s.listTags)

	staff := r.Group("/suspicion-reasons/:reasonID", s.requireStaff)
	{
		staff.POST("/changesets/", s.addReasonToChangesets)
		staff.DELETE("/changesets/", s.removeReasonFromChangesets)
	}

	users := r.Group("/users", s.requireAuth)
	{
		users.GET("/", s.getCurrentUser)
		users.PATCH("/", s.updateUserSettings)
	}

	whitelist := r.Group("/whitelist-user", s.requireAuth)
	{
		whitelist.GET("/", s.listWhitelist)
		whitelist.POST("/", s.addWhitelistUser)
		whitelist.DELETE("/:name/", s.removeWhitelistUser)
	}

	blacklist := r.Group("/blacklisted-users", s.requireStaff)
	{
		blacklist.GET("/", s.listBlacklist)
		blacklist.POST("/", s.addBlacklistedUser)
		blacklist.GET("/:uid/", s.getBlacklistedUser)
		blacklist.PATCH("/:uid/", s.updateBlacklistedUser)
		blacklist.DELETE("/:uid/", s.removeBlacklistedUser)
	}

	teams := r.Group("/mapping-team")
	{
		teams.GET("/", s.listTeams)
		teams.POST("/", s.requireAuth, s.createTeam)
		teams.PUT("/:id/", s.requireAuth, s.updateTeam)
		teams.PATCH("/:id/", s.requireAuth, s.updateTeam)
		teams.DELETE("/:id/", s.requireAuth, s.deleteTeam)
		teams.PUT("/:id/trust/", s.requireStaff, s.trustTeam(true))
		teams.PUT("/:id/untrust/", s.requireStaff, s.trustTeam(false))
	}

	challenges := r.Group("/challenges", s.requireStaff)
	{
		challenges.GET("/", s.listChallenges)
		challenges.POST("/", s.createChallenge)
		challenges.GET("/:id/", s.getChallenge)
		challenges.PATCH("/:id/", s.updateChallenge)
		challenges.DELETE("/:id/", s.deleteChallenge)
	}

	return r
}
