package web

import (
	"errors"
	"net/http"

	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/gin-gonic/gin"
)

type transitionResponse struct {
	Id          string `json:"id"`
	Operation   string `json:"operation"`
	From        string `json:"from"`
	To          string `json:"to"`
	Txid        string `json:"txid"`
	Amount      uint64 `json:"amount"`
	Fee         uint64 `json:"fee"`
	Destination string `json:"destination"`
	Height      uint32 `json:"height"`
	CreatedAt   int64  `json:"createdAt"`
}

func (s *service) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.buildInfo.Version,
		"commit":  s.buildInfo.Commit,
		"date":    s.buildInfo.Date,
	})
}

func (s *service) getStatuses(c *gin.Context) {
	watched, err := s.svc.ListWatched(c)
	if err != nil {
		// nolint:all
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	statuses := make([]*domain.Status, 0, len(watched))
	for _, w := range watched {
		status, err := s.svc.GetWatchedStatus(c, w.Id)
		if err != nil {
			// nolint:all
			c.AbortWithError(http.StatusBadGateway, err)
			return
		}
		statuses = append(statuses, status)
	}
	c.JSON(http.StatusOK, gin.H{"stashes": statuses})
}

func (s *service) getStatus(c *gin.Context) {
	status, err := s.svc.GetWatchedStatus(c, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *service) getHistory(c *gin.Context) {
	transitions, err := s.svc.GetWatchedHistory(c, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	history := make([]transitionResponse, 0, len(transitions))
	for _, t := range transitions {
		history = append(history, transitionResponse{
			Id:          t.Id,
			Operation:   string(t.Operation),
			From:        t.From.String(),
			To:          t.To.String(),
			Txid:        t.Txid,
			Amount:      t.Amount,
			Fee:         t.Fee,
			Destination: t.Destination,
			Height:      t.Height,
			CreatedAt:   t.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, application.ErrNotWatched):
		status = http.StatusNotFound
	case errors.Is(err, application.ErrSync):
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
