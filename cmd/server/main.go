package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wmjx/flare-stack-blog/internal/config"
	"github.com/wmjx/flare-stack-blog/internal/db"
	"github.com/wmjx/flare-stack-blog/internal/repository"
	"github.com/wmjx/flare-stack-blog/internal/router"
	"github.com/wmjx/flare-stack-blog/internal/services"
	"github.com/wmjx/flare-stack-blog/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

type moderationQueue interface {
	services.ModerationScheduler
	Start(ctx context.Context, workers int)
	Wait()
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	database := db.Init(cfg.DatabaseURL)
	if err := db.SeedAdmin(database, cfg.AdminEmail, cfg.AdminName, cfg.AdminPassword); err != nil {
		log.Fatalf("Failed to seed admin: %v", err)
	}

	commentRepo := repository.NewCommentRepository(database)
	postRepo := repository.NewPostRepository(database)
	userRepo := repository.NewUserRepository(database)
	unsubRepo := repository.NewUnsubscribeRepository(database)
	runRepo := repository.NewModerationRunRepository(database)
	deliveryRepo := repository.NewNotificationDeliveryRepository(database)

	mail := services.NewMailService(services.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	var judge services.Judge = services.DevJudge{}
	if cfg.IsProduction() {
		judge = services.NewLLMJudge(services.LLMConfig{
			BaseURL: cfg.LLMBaseURL,
			Token:   cfg.LLMToken,
			Model:   cfg.LLMModel,
		})
	} else {
		log.Println("⚠️ 非生产环境，评论自动通过审核")
	}

	// 有 Redis 时用 Redis 队列和发件箱，多实例共享；否则退回进程内实现
	var outbox services.Outbox
	var localOutbox *services.LocalOutbox
	var newQueue func(services.ModerationHandler) moderationQueue
	if cfg.RedisURL != "" {
		client, err := db.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()

		redisOutbox := services.NewRedisOutbox(client, mail, deliveryRepo)
		go redisOutbox.Run(ctx)
		outbox = redisOutbox
		newQueue = func(h services.ModerationHandler) moderationQueue {
			return services.NewRedisQueue(client, h)
		}
	} else {
		localOutbox = services.NewLocalOutbox(mail, utils.GetCache(), deliveryRepo)
		outbox = localOutbox
		newQueue = func(h services.ModerationHandler) moderationQueue {
			return services.NewLocalQueue(cfg.ModerationQueueSize, h)
		}
	}

	dispatcher := services.NewNotificationDispatcher(commentRepo, unsubRepo, outbox, services.NotifierConfig{
		Domain:            cfg.Domain,
		AdminEmail:        cfg.AdminEmail,
		UnsubscribeSecret: cfg.AuthSecret,
	})

	// 初始化异步审核
	workflow := services.NewModerationWorkflow(commentRepo, postRepo, runRepo, judge, dispatcher, services.DefaultRetryPolicy)
	queue := newQueue(workflow.Run)
	queue.Start(ctx, cfg.ModerationWorkers)

	sweeper := services.NewModerationSweeper(commentRepo, queue, cfg.ModerationStaleAfter)
	if err := sweeper.Start(cfg.ModerationSweepSchedule); err != nil {
		log.Fatalf("Failed to start moderation sweeper: %v", err)
	}

	// Initialize Gin
	r := gin.Default()

	// Setup Sessions
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("flare_session", store))

	router.RegisterRoutes(r, router.Deps{
		Users:        userRepo,
		Comments:     services.NewCommentService(commentRepo, postRepo, dispatcher, queue),
		Auth:         services.NewAuthService(userRepo),
		Unsubscribes: services.NewUnsubscribeService(unsubRepo, cfg.AuthSecret),
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("✅ Server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ server shutdown: %v", err)
	}

	sweeper.Stop()
	queue.Wait()
	if localOutbox != nil {
		localOutbox.Wait()
	}
}
