package rebuild

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/internal/index"
)

type MockRebuilder struct{ mock.Mock }

func (m *MockRebuilder) Rebuild(ctx context.Context) (index.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(index.Summary), args.Error(1)
}

func TestHandler_Rebuild_Table(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		rebuildErr error
		summary    index.Summary
		wantStatus int
		wantCode   string
	}{
		{
			name:       "Success without body",
			summary:    index.Summary{Documents: 2, Chunks: 40, Location: "chroma_db/ceadar_docs.db", Duration: 1500 * time.Millisecond},
			wantStatus: http.StatusOK,
		},
		{
			name:       "In progress",
			body:       `{"reason":"manual"}`,
			rebuildErr: index.ErrRebuildInProgress,
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "Missing input",
			rebuildErr: &index.MissingInputError{Dir: "data/raw", Reason: "directory does not exist"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "MISSING_INPUT",
		},
		{
			name:       "Embedding failure",
			rebuildErr: errors.New("embed documents: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(MockRebuilder)
			b.On("Rebuild", mock.Anything).Return(tt.summary, tt.rebuildErr)

			req := httptest.NewRequest(http.MethodPost, "/index/rebuild", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			NewHandler(b, nil).Rebuild(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error"].(map[string]interface{})["code"])
				return
			}
			data := body["data"].(map[string]interface{})
			assert.EqualValues(t, 40, data["chunks"])
			assert.EqualValues(t, 1500, data["duration_ms"])
			assert.Equal(t, "Built index | docs=2 chunks=40 db=chroma_db/ceadar_docs.db", data["message"])
		})
	}
}

func TestHandler_Rebuild_Async(t *testing.T) {
	t.Run("Queued", func(t *testing.T) {
		b := new(MockRebuilder)
		var got string
		enqueue := func(ctx context.Context, reason string) error {
			got = reason
			return nil
		}

		req := httptest.NewRequest(http.MethodPost, "/index/rebuild", bytes.NewBufferString(`{"async":true,"reason":"new files"}`))
		w := httptest.NewRecorder()
		NewHandler(b, enqueue).Rebuild(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "new files", got)
		b.AssertNotCalled(t, "Rebuild", mock.Anything)
	})

	t.Run("No worker", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/index/rebuild", bytes.NewBufferString(`{"async":true}`))
		w := httptest.NewRecorder()
		NewHandler(new(MockRebuilder), nil).Rebuild(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Publish error", func(t *testing.T) {
		enqueue := func(ctx context.Context, reason string) error { return errors.New("nsqd down") }
		req := httptest.NewRequest(http.MethodPost, "/index/rebuild", bytes.NewBufferString(`{"async":true}`))
		w := httptest.NewRecorder()
		NewHandler(new(MockRebuilder), enqueue).Rebuild(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_Rebuild_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/index/rebuild", bytes.NewBufferString(`{"reason":`))
	w := httptest.NewRecorder()
	NewHandler(new(MockRebuilder), nil).Rebuild(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
