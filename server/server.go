package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/DATN-PetShop/ServerPetShop/config"
	"github.com/DATN-PetShop/ServerPetShop/handlers"
	"github.com/DATN-PetShop/ServerPetShop/kafka"
	"github.com/DATN-PetShop/ServerPetShop/limiter"
	custommiddleware "github.com/DATN-PetShop/ServerPetShop/middleware"
	"github.com/DATN-PetShop/ServerPetShop/models"
	"github.com/DATN-PetShop/ServerPetShop/redis"
	"github.com/DATN-PetShop/ServerPetShop/repository"
	"github.com/DATN-PetShop/ServerPetShop/services"
)

type Server struct {
	Echo        *echo.Echo
	DB          *gorm.DB
	Config      *config.Config
	AuthHandler *handlers.AuthHandler
	ChatHandler *handlers.ChatHandler
	Gateway     *handlers.ChatGateway
	Redis       *redis.RedisClient
	Limiter     *limiter.Manager

	producer *kafka.Producer
	consumer *kafka.Consumer

	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}
}

func NewServer() *Server {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		log.Fatal("Failed to auto-migrate database:", err)
	}

	// Redis 可选，连不上时在线状态和限流降级
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, presence and rate limiting disabled:", err)
		redisClient = nil
	}
	var limiterManager *limiter.Manager
	if redisClient != nil {
		limiterManager = limiter.NewManager(redisClient.Client, &limiter.FixedWindowStrategy{})
	}

	// Kafka change feed，可选
	var producer *kafka.Producer
	var events repository.MessageEventPublisher
	if cfg.Kafka.Enabled {
		saramaConfig, err := kafka.NewSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to build kafka config:", err)
		}
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, saramaConfig)
		if err != nil {
			log.Fatal("Failed to create kafka producer:", err)
		}
		events = producer
	}

	// 初始化 Echo
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))

	roomRepo := repository.NewRoomRepository(db)
	messageRepo := repository.NewMessageRepository(db, events)
	userRepo := repository.NewUserRepository(db)

	authService := services.NewAuthService(db, &cfg.Auth)
	chatService := services.NewChatService(roomRepo, messageRepo, userRepo)

	gateway := handlers.NewChatGateway(authService, chatService, redisClient)
	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chatService, gateway, redisClient)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		saramaConfig, err := kafka.NewSaramaConfig(&cfg.Kafka)
		if err != nil {
			log.Fatal("Failed to build kafka consumer config:", err)
		}
		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID,
			[]string{cfg.Kafka.Topic}, saramaConfig, kafka.NewChatEventHandler(gateway))
		if err != nil {
			log.Fatal("Failed to create kafka consumer:", err)
		}
	}

	s := &Server{
		Echo:        e,
		DB:          db,
		Config:      &cfg,
		AuthHandler: authHandler,
		ChatHandler: chatHandler,
		Gateway:     gateway,
		Redis:       redisClient,
		Limiter:     limiterManager,
		producer:    producer,
		consumer:    consumer,
	}

	authMiddleware := custommiddleware.AuthMiddleware(authService)
	s.SetupRoutes(authMiddleware)
	return s
}

func (s *Server) Start(addr string) error {
	if s.consumer != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.bridgeCancel = cancel
		s.bridgeDone = make(chan struct{})
		go func() {
			defer close(s.bridgeDone)
			if err := s.consumer.Start(ctx); err != nil {
				log.Error("Change feed bridge stopped:", err)
			}
		}()
	}
	return s.Echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.bridgeCancel != nil {
		s.bridgeCancel()
		select {
		case <-s.bridgeDone:
		case <-ctx.Done():
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Error("Failed to close kafka consumer:", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Error("Failed to close kafka producer:", err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error("Failed to close redis client:", err)
		}
	}
	return s.Echo.Shutdown(ctx)
}
