package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletlink"
)

// SetupRouter sets up the Gin router. An empty controlToken leaves the API open.
func SetupRouter(client *walletlink.Client, controlToken string) *gin.Engine {
	router := gin.Default()

	handlers := NewHandlers(client)

	router.GET("/healthz", handlers.Health)

	api := router.Group("/api")
	if controlToken != "" {
		api.Use(ControlTokenMiddleware(controlToken))
	}

	pairings := api.Group("/pairings")
	{
		pairings.POST("", handlers.CreatePairing)
		pairings.GET("", handlers.Pairings)
		pairings.POST("/:topic/extend", handlers.ExtendPairing)
		pairings.POST("/:topic/proposals", handlers.Propose)
		pairings.DELETE("/:topic", handlers.DeletePairing)
	}

	api.POST("/pair", handlers.Pair)

	proposals := api.Group("/proposals")
	{
		proposals.GET("", handlers.Proposals)
		proposals.POST("/:id/approve", handlers.ApproveProposal)
		proposals.POST("/:id/reject", handlers.RejectProposal)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("", handlers.Sessions)
		sessions.GET("/:topic", handlers.Session)
		sessions.PUT("/:topic/methods", handlers.UpdateMethods)
		sessions.PUT("/:topic/accounts", handlers.UpdateAccounts)
		sessions.PUT("/:topic/expiry", handlers.UpdateExpiry)
		sessions.DELETE("/:topic", handlers.DeleteSession)
	}

	identities := api.Group("/identities")
	{
		identities.GET("/:account", handlers.Identity)
		identities.DELETE("/:account", handlers.DeleteIdentity)
	}

	inviteKeys := api.Group("/invite-keys")
	{
		inviteKeys.POST("", handlers.RegisterInvite)
		inviteKeys.GET("/:account", handlers.InviteKey)
		inviteKeys.DELETE("/:account", handlers.UnregisterInvite)
	}

	invites := api.Group("/invites")
	{
		invites.POST("", handlers.SendInvite)
		invites.GET("/sent", handlers.SentInvites)
		invites.GET("/received", handlers.ReceivedInvites)
		invites.POST("/:id/accept", handlers.AcceptInvite)
		invites.POST("/:id/reject", handlers.RejectInvite)
	}

	api.GET("/threads", handlers.Threads)

	return router
}
