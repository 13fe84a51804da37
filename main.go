package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/handlers"
	"conversation-service/internal/middleware"
	"conversation-service/internal/notify"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

const serviceName = "conversation-service"

func main() {
	cfg := config.Load()

	tracing, err := telemetry.Setup(context.Background(), cfg.OTLPEndpoint, serviceName, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	if tracing != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	if reason := notify.PublisherNoopReason(publisher); reason != "" {
		log.Printf("notifier mode=%s reason=%s", notify.PublisherMode(publisher), reason)
	} else {
		log.Printf("notifier mode=%s", notify.PublisherMode(publisher))
	}

	userRepo := repositories.NewUserRepo(database)
	readStateRepo := repositories.NewReadStateRepo(database)
	conversationRepo := repositories.NewConversationRepo(database, readStateRepo, userRepo)
	messageRepo := repositories.NewMessageRepo(database)

	fanout := notify.NewFanout(publisher, conversationRepo)
	audit := telemetry.NewAuditEmitter(publisher, "audit."+serviceName, serviceName, cfg.Environment)

	hub := ws.NewHub(publisher)
	tokenValidator := middleware.NewTokenValidator(cfg.JWTSecret)

	conversationHandler := handlers.NewConversationHandler(conversationRepo, readStateRepo, fanout, audit)
	messageHandler := handlers.NewMessageHandler(messageRepo, readStateRepo, userRepo, fanout, hub, audit)
	conversationWS := ws.NewConversationWebSocketHandler(hub, conversationRepo, messageRepo, fanout, tokenValidator)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(tokenValidator)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations", authMiddleware, conversationHandler.CreateConversation)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.GetConversation)
	router.PATCH("/conversations/:conversation_id", authMiddleware, conversationHandler.UpdateConversation)
	router.DELETE("/conversations/:conversation_id", authMiddleware, conversationHandler.DeleteConversation)
	router.POST("/conversations/:conversation_id/participants", authMiddleware, conversationHandler.AddParticipants)
	router.DELETE("/conversations/:conversation_id/participants/:user_id", authMiddleware, conversationHandler.RemoveParticipant)
	router.PATCH("/conversations/:conversation_id/participants/:user_id/role", authMiddleware, conversationHandler.UpdateParticipantRole)
	router.PATCH("/conversations/:conversation_id/participants/:user_id/mute", authMiddleware, conversationHandler.UpdateMuteStatus)
	router.POST("/conversations/:conversation_id/leave", authMiddleware, conversationHandler.Leave)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.ListMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messageHandler.MarkAsRead)
	router.PATCH("/messages/:message_id", authMiddleware, messageHandler.UpdateMessage)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/messages/:message_id/reactions", authMiddleware, messageHandler.AddReaction)
	router.DELETE("/messages/:message_id/reactions/:emoji", authMiddleware, messageHandler.RemoveReaction)

	router.POST("/realtime/auth", authMiddleware, conversationHandler.RealtimeAuth)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, audit, cfg.Environment == "development")

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
