package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"sitroom_server/server/common/infra/db"
	"sitroom_server/server/common/infra/mq"
	"sitroom_server/server/sitroom/api"
	"sitroom_server/server/sitroom/repository"
	"sitroom_server/server/sitroom/service"
)

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	MQConn     *amqp.Connection
	Publisher  *service.AMQPPublisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	var (
		mqConn    *amqp.Connection
		publisher *service.AMQPPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		publisher, err = service.NewAMQPPublisher(mqConn)
		if err != nil {
			dbPool.Close()
			_ = mqConn.Close()
			return nil, fmt.Errorf("initialize amqp publisher: %w", err)
		}
	}

	roomRepo := repository.NewRoomRepository(dbPool)
	tokenRepo := repository.NewTokenRepository(dbPool)
	entityRepo := repository.NewEntityRepository(dbPool)

	remote := service.NewChatProviderClient(cfg.ChatProviderURL, cfg.ChatProviderAdminToken)
	prov := service.NewProvisioner(tokenRepo, remote, cfg.ChatProviderTeamID)
	roomSvc := service.NewRoomService(roomRepo, entityRepo, remote, prov, publisher, cfg.UseMQ, cfg.ChatProviderTeamID)

	h := api.NewHandler(roomSvc, cfg.JWTSecret, cfg.JWTTTLMinutes)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		DB:         dbPool,
		MQConn:     mqConn,
		Publisher:  publisher,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
