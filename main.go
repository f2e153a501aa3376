package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-presence-service/internal/auth"
	"chat-presence-service/internal/chat"
	"chat-presence-service/internal/db"
	"chat-presence-service/internal/handlers"
	"chat-presence-service/internal/middleware"
	"chat-presence-service/internal/observability"
	"chat-presence-service/internal/rabbitmq"
	"chat-presence-service/internal/repositories"
	"chat-presence-service/internal/session"
	"chat-presence-service/internal/telemetry"
	"chat-presence-service/internal/ws"
)

const serviceName = "chat-presence-service"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if endpoint := getEnv("OTLP_ENDPOINT", ""); endpoint != "" {
		shutdown, err := observability.InitTracer(ctx, serviceName, endpoint)
		if err != nil {
			log.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracer shutdown: %v", err)
			}
		}()
	}

	amqpURL := getEnv("AMQP_URL", "")
	exchange := getEnv("AMQP_EXCHANGE", "chat_events")
	if eventPublisher, err := observability.NewAMQPPublisher(amqpURL, exchange); err != nil {
		log.Printf("event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, exchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, observability.RoutingAudit, serviceName, getEnv("ENVIRONMENT", "dev"))

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	verifier := auth.NewJWTVerifier(getEnv("JWT_SECRET", "dev-secret"), userRepo)

	timeout := time.Duration(getEnvInt("SESSION_TIMEOUT_MINUTES", 10)) * time.Minute
	sweepInterval := time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 30)) * time.Second
	maxContentLength := getEnvInt("MAX_MESSAGE_LENGTH", 4096)

	hub := ws.NewHub()
	presence := ws.NewPresence(hub, userRepo)
	sessions := session.NewRegistry(userRepo, timeout)
	router := chat.NewRouter(messageRepo, userRepo, hub, maxContentLength)

	sweeper := session.NewSweeper(sessions, hub, presence, auditEmitter, sweepInterval)
	go sweeper.Run(ctx)

	wsHandler := ws.NewHandler(hub, presence, sessions, router, verifier, auditEmitter)
	messageHandler := handlers.NewMessageHandler(router, messageRepo, sessions)
	presenceHandler := handlers.NewPresenceHandler(presence, sessions)
	sessionHandler := handlers.NewSessionHandler(sessions, auditEmitter)

	engine := gin.Default()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)
	sessionGuard := middleware.SessionGuard(sessions)

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/ws", wsHandler.Handle)

	engine.POST("/session/refresh", authMiddleware, sessionHandler.Refresh)
	engine.GET("/session/status", authMiddleware, sessionHandler.Status)

	engine.GET("/conversations/:user_id/messages", authMiddleware, sessionGuard, messageHandler.GetConversation)
	engine.POST("/conversations/:user_id/read", authMiddleware, sessionGuard, messageHandler.MarkRead)
	engine.GET("/groups/:group_id/messages", authMiddleware, sessionGuard, messageHandler.GetGroupConversation)
	engine.POST("/messages", authMiddleware, sessionGuard, messageHandler.PostMessage)
	engine.DELETE("/messages/:message_id", authMiddleware, sessionGuard, messageHandler.DeleteMessage)
	engine.GET("/messages/unread/count", authMiddleware, sessionGuard, messageHandler.UnreadCount)
	engine.PUT("/users/status", authMiddleware, sessionGuard, presenceHandler.UpdateStatus)

	port := getEnv("PORT", "8083")
	if err := engine.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
