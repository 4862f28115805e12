package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// stashService is the read-only subset of the application service exposed
// over http.
type stashService interface {
	ListWatched(ctx context.Context) ([]domain.WatchedStash, error)
	GetWatchedStatus(ctx context.Context, id string) (*domain.Status, error)
	GetWatchedHistory(ctx context.Context, id string) ([]domain.Transition, error)
}

type service struct {
	*gin.Engine

	svc        stashService
	buildInfo  application.BuildInfo
	httpServer *http.Server
}

func NewService(svc stashService, buildInfo application.BuildInfo, port uint32) *service {
	router := gin.New()
	setupMiddleware(router)

	s := &service{
		Engine:    router,
		svc:       svc,
		buildInfo: buildInfo,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	v1 := s.Group("/v1")
	v1.GET("/info", s.getInfo)
	v1.GET("/status", s.getStatuses)
	v1.GET("/status/:id", s.getStatus)
	v1.GET("/history/:id", s.getHistory)

	return s
}

func (s *service) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()
	log.Infof("http server listening on %s", s.httpServer.Addr)
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// nolint:all
	s.httpServer.Shutdown(ctx)
	log.Info("http server stopped")
}
