package detection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	labels []string
	err    error
	source string
}

func (s *stubDetector) Detect(_ context.Context, source string) ([]string, error) {
	s.source = source
	return s.labels, s.err
}

func get(t *testing.T, h http.Handler, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestDetectRequiresSource(t *testing.T) {
	h := NewServer(&stubDetector{}, nil, time.Second).Router()

	code, body := get(t, h, "/detect")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "RTSP URL parameter is required.", body["error"])
}

func TestDetectReturnsLabels(t *testing.T) {
	d := &stubDetector{labels: []string{"person (0.91)"}}
	h := NewServer(d, nil, time.Second).Router()

	code, body := get(t, h, "/detect?rtsp_url="+url.QueryEscape("rtsp://cam/main"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"person (0.91)"}, body["message"])
	assert.Equal(t, "rtsp://cam/main", d.source)
}

func TestDetectNoTarget(t *testing.T) {
	h := NewServer(&stubDetector{}, nil, time.Second).Router()

	code, body := get(t, h, "/detect?rtsp_url=rtsp://cam/main")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, NoTargetMessage, body["message"])
}

func TestDetectFailures(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: ErrNoFrame, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		h := NewServer(&stubDetector{err: tt.err}, nil, time.Second).Router()
		code, body := get(t, h, "/detect?rtsp_url=rtsp://cam/main")
		assert.Equal(t, tt.want, code)
		assert.NotEmpty(t, body["error"])
	}
}

func TestServerAnswersRemoteClient(t *testing.T) {
	srv := httptest.NewServer(NewServer(&stubDetector{labels: []string{"cat (0.70)"}}, nil, time.Second).Router())
	defer srv.Close()

	remote, err := NewRemote(srv.URL+"/detect", srv.Client())
	require.NoError(t, err)

	labels, err := remote.Detect(context.Background(), "rtsp://user:pw@cam/main")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat (0.70)"}, labels)
}

func TestHealth(t *testing.T) {
	info := func() ProviderInfo { return ProviderInfo{Type: "CPU", Backend: "OpenCV CPU"} }
	h := NewServer(&stubDetector{}, info, time.Second).Router()

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	provider, ok := body["provider"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "CPU", provider["type"])
}

func TestDetectRejectsPost(t *testing.T) {
	h := NewServer(&stubDetector{}, nil, time.Second).Router()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/detect?rtsp_url=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
