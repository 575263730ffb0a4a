package job_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/features/job"
	"docrag/internal/config"
)

func TestHandler_List(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		jobs       []job.Job
		err        error
		wantStatus int
		wantCount  int
	}{
		{
			name: "returns jobs",
			jobs: []job.Job{
				{ID: "a", Handler: "rebuild-worker", Error: "no .pdf or .docx found", Payload: []byte(`{}`), CreatedAt: created},
			},
			wantStatus: http.StatusOK,
			wantCount:  1,
		},
		{
			name:       "nil list renders empty array",
			wantStatus: http.StatusOK,
		},
		{
			name:       "repository error",
			err:        errors.New("database error"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			if tt.jobs == nil {
				repo.On("List", mock.Anything).Return(nil, tt.err)
			} else {
				repo.On("List", mock.Anything).Return(tt.jobs, tt.err)
			}
			h := job.NewHandler(job.NewService(repo, nil, nil))

			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body struct {
				Data []job.Job      `json:"data"`
				Meta map[string]int `json:"meta"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotNil(t, body.Data)
			assert.Len(t, body.Data, tt.wantCount)
			assert.Equal(t, tt.wantCount, body.Meta["count"])
		})
	}
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name       string
		withPub    bool
		setup      func(*MockRepo, *MockPublisher)
		wantStatus int
		wantCode   string
	}{
		{
			name:    "queued",
			withPub: true,
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: []byte(`{"reason":"api"}`)}, nil)
				p.On("Publish", config.TopicIndexRebuild, mock.Anything).Return(nil)
				r.On("Delete", mock.Anything, "job-1").Return(nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:    "unknown job",
			withPub: true,
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(nil, sql.ErrNoRows)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "worker disabled",
			setup:      func(r *MockRepo, p *MockPublisher) {},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "UNAVAILABLE",
		},
		{
			name:    "publish failure",
			withPub: true,
			setup: func(r *MockRepo, p *MockPublisher) {
				r.On("Get", mock.Anything, "job-1").Return(&job.Job{ID: "job-1", Payload: []byte(`{}`)}, nil)
				p.On("Publish", config.TopicIndexRebuild, mock.Anything).Return(errors.New("nsq error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			pub := new(MockPublisher)
			tt.setup(repo, pub)

			var svc *job.Service
			if tt.withPub {
				svc = job.NewService(repo, pub, nil)
			} else {
				svc = job.NewService(repo, nil, nil)
			}

			req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/retry", nil)
			req.SetPathValue("id", "job-1")
			w := httptest.NewRecorder()
			job.NewHandler(svc).Retry(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			if tt.wantCode != "" {
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, tt.wantCode, errMap["code"])
			} else {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, "queued", data["status"])
				assert.Equal(t, "job-1", data["id"])
			}
			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
		})
	}
}
