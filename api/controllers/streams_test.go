package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	streamssvc "github.com/amaldonado/streamlane-backend/internal/streams"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/pagination"
)

type fakeStreamService struct {
	startResp *streamssvc.StreamDTO
	startErr  error
	stopResp  *streamssvc.StreamDTO
	stopErr   error
	listResp  *streamssvc.ListStreamsResponse
	stopped   []uuid.UUID
}

func (f *fakeStreamService) Start(ctx context.Context, userID uuid.UUID, req streamssvc.StartStreamRequest) (*streamssvc.StreamDTO, error) {
	return f.startResp, f.startErr
}

func (f *fakeStreamService) Stop(ctx context.Context, userID, streamID uuid.UUID) (*streamssvc.StreamDTO, error) {
	f.stopped = append(f.stopped, streamID)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return f.stopResp, nil
}

func (f *fakeStreamService) List(ctx context.Context, userID uuid.UUID, params pagination.Params, status *enums.StreamStatus) (*streamssvc.ListStreamsResponse, error) {
	return f.listResp, nil
}

func TestStreamStartSuccess(t *testing.T) {
	svc := &fakeStreamService{
		startResp: &streamssvc.StreamDTO{
			ID:        uuid.New(),
			Title:     "Morning show",
			Status:    enums.StreamStatusLive,
			StartedAt: time.Now(),
		},
	}
	handler := StreamStart(svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/streams", `{"title":"Morning show"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"Morning show"`) {
		t.Fatalf("expected title in body: %s", rec.Body.String())
	}
}

func TestStreamStartQuotaDenied(t *testing.T) {
	svc := &fakeStreamService{
		startErr: pkgerrors.New(pkgerrors.CodeForbidden, "active stream limit reached"),
	}
	handler := StreamStart(svc, nil)

	req := authedRequest(http.MethodPost, "/api/v1/streams", `{"title":"One too many"}`)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestStreamStopParsesStreamID(t *testing.T) {
	streamID := uuid.New()
	svc := &fakeStreamService{
		stopResp: &streamssvc.StreamDTO{
			ID:     streamID,
			Status: enums.StreamStatusStopped,
		},
	}

	router := chi.NewRouter()
	router.Post("/streams/{streamId}/stop", StreamStop(svc, nil))

	req := authedRequest(http.MethodPost, "/streams/"+streamID.String()+"/stop", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.stopped) != 1 || svc.stopped[0] != streamID {
		t.Fatalf("unexpected stop calls: %v", svc.stopped)
	}
}

func TestStreamStopRejectsBadID(t *testing.T) {
	svc := &fakeStreamService{}

	router := chi.NewRouter()
	router.Post("/streams/{streamId}/stop", StreamStop(svc, nil))

	req := authedRequest(http.MethodPost, "/streams/not-a-uuid/stop", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(svc.stopped) != 0 {
		t.Fatalf("service should not be called with a bad id")
	}
}

func TestStreamsListRejectsBadStatus(t *testing.T) {
	svc := &fakeStreamService{listResp: &streamssvc.ListStreamsResponse{}}
	handler := StreamsList(svc, nil)

	req := authedRequest(http.MethodGet, "/api/v1/streams?status=bogus", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStreamsListReturnsPage(t *testing.T) {
	next := "opaque-cursor"
	svc := &fakeStreamService{
		listResp: &streamssvc.ListStreamsResponse{
			Streams: []streamssvc.StreamDTO{
				{ID: uuid.New(), Title: "First", Status: enums.StreamStatusStopped},
			},
			NextCursor: &next,
		},
	}
	handler := StreamsList(svc, nil)

	req := authedRequest(http.MethodGet, "/api/v1/streams?limit=1", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"next_cursor":"opaque-cursor"`) {
		t.Fatalf("expected cursor in body: %s", rec.Body.String())
	}
}
