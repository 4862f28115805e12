package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ArkLabsHQ/deadman/internal/core/application"
	"github.com/ArkLabsHQ/deadman/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const stashId = "k2tjnsyp"

type fakeStashService struct {
	failSync bool
}

func (f *fakeStashService) ListWatched(context.Context) ([]domain.WatchedStash, error) {
	return []domain.WatchedStash{{Id: stashId, Margin: 144}}, nil
}

func (f *fakeStashService) GetWatchedStatus(_ context.Context, id string) (*domain.Status, error) {
	if id != stashId {
		return nil, fmt.Errorf("%w: %s", application.ErrNotWatched, id)
	}
	if f.failSync {
		return nil, fmt.Errorf("%w: connection refused", application.ErrSync)
	}
	return domain.NewStatus(stashId, 1000, 150, []domain.OutputStatus{
		{Txid: "aa", Amount: 100000, BlockHeight: 100, Age: 51},
	}, true, "bcrt1qnext"), nil
}

func (f *fakeStashService) GetWatchedHistory(_ context.Context, id string) ([]domain.Transition, error) {
	if id != stashId {
		return nil, fmt.Errorf("%w: %s", application.ErrNotWatched, id)
	}
	return []domain.Transition{
		domain.NewTransition(stashId, domain.OperationCheckIn, "bb", 99000, 1000, "bcrt1qnext", 150),
	}, nil
}

func TestAPI(t *testing.T) {
	fake := &fakeStashService{}
	svc := NewService(fake, application.BuildInfo{Version: "v0.1.0"}, 0)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		svc.ServeHTTP(rec, req)
		return rec
	}

	t.Run("info", func(t *testing.T) {
		rec := get("/v1/info")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "v0.1.0")
	})

	t.Run("statuses", func(t *testing.T) {
		rec := get("/v1/status")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Stashes []domain.Status `json:"stashes"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Stashes, 1)
		require.Equal(t, "active", resp.Stashes[0].StateName)
		require.Equal(t, uint64(100000), resp.Stashes[0].Balance)
		require.Equal(t, uint32(949), resp.Stashes[0].BlocksUntilExpiry)
		require.Equal(t, uint32(1099), resp.Stashes[0].ExpiryHeight)
	})

	t.Run("status", func(t *testing.T) {
		rec := get("/v1/status/" + stashId)
		require.Equal(t, http.StatusOK, rec.Code)

		var status domain.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		require.Equal(t, stashId, status.Id)
		require.Equal(t, "bcrt1qnext", status.ReceiveAddress)

		rec = get("/v1/status/unknown")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "not watched")
	})

	t.Run("history", func(t *testing.T) {
		rec := get("/v1/history/" + stashId)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			History []transitionResponse `json:"history"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.History, 1)
		require.Equal(t, "check-in", resp.History[0].Operation)
		require.Equal(t, "active", resp.History[0].From)
		require.Equal(t, "active", resp.History[0].To)
		require.Equal(t, uint64(1000), resp.History[0].Fee)

		rec = get("/v1/history/unknown")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("backend failure", func(t *testing.T) {
		fake.failSync = true
		defer func() { fake.failSync = false }()

		rec := get("/v1/status/" + stashId)
		require.Equal(t, http.StatusBadGateway, rec.Code)

		rec = get("/v1/status")
		require.Equal(t, http.StatusBadGateway, rec.Code)
	})
}
