package httpapi_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensorzero/inference-core/inference/config"
	"github.com/tensorzero/inference-core/inference/dispatch"
	"github.com/tensorzero/inference-core/inference/httpapi"
	"github.com/tensorzero/inference-core/inference/provider/dummy"
	"github.com/tensorzero/inference-core/inference/provider/registry"
	"github.com/tensorzero/inference-core/inference/ratelimit"
	"github.com/tensorzero/inference-core/inference/router"
	"github.com/tensorzero/inference-core/inference/variant"
)

func newDispatcher(t *testing.T, behaviors map[string]string) *dispatch.Dispatcher {
	t.Helper()
	dummyBehaviors := registry.DummyBehaviors{}
	for name, text := range behaviors {
		dummyBehaviors[name] = dummy.Behavior{Text: text}
	}
	deps := variant.Deps{
		Models: config.NewModelTable(nil),
		Router: router.New(registry.New(dummyBehaviors)),
	}
	return dispatch.New(nil, deps, nil, nil, nil)
}

func postInference(t *testing.T, h *httpapi.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleInference_BufferedModelNameRequestSucceeds(t *testing.T) {
	h := httpapi.New(newDispatcher(t, map[string]string{"good": "hello there"}), httpapi.NoopFinalizer{}, nil, nil)

	rec := postInference(t, h, map[string]any{
		"model_name": "dummy::good",
		"input": map[string]any{
			"messages": []map[string]any{
				{"role": "user", "parts": []map[string]any{{"kind": "text", "data": map[string]any{"Text": "hi"}}}},
			},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotEmpty(t, got["inference_id"])
}

func TestHandleInference_MalformedBodyReturns400(t *testing.T) {
	h := httpapi.New(newDispatcher(t, nil), httpapi.NoopFinalizer{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/inference", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInference_UnknownFunctionReturns400(t *testing.T) {
	h := httpapi.New(newDispatcher(t, nil), httpapi.NoopFinalizer{}, nil, nil)

	rec := postInference(t, h, map[string]any{
		"function_name": "does_not_exist",
		"input":         map[string]any{"messages": []map[string]any{}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInference_RateLimitDenialReturnsError(t *testing.T) {
	limiter := ratelimit.New(config.RateLimitConfig{
		Enabled: true,
		Rules: []config.RateLimitRule{
			{Name: "r1", Always: true, Resources: config.ResourceLimits{
				ModelInferencesPerInterval: map[config.RateLimitWindow]config.BucketSpec{
					config.WindowMinute: {Capacity: 0, RefillRate: 60},
				},
			}},
		},
	})
	h := httpapi.New(newDispatcher(t, map[string]string{"good": "hello"}), httpapi.NoopFinalizer{}, limiter, nil)

	rec := postInference(t, h, map[string]any{
		"model_name": "dummy::good",
		"input":      map[string]any{"messages": []map[string]any{}},
	})

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHandleInference_StreamingRequestEmitsSSEChunksAndDoneEvent(t *testing.T) {
	h := httpapi.New(newDispatcher(t, map[string]string{"good": "hello there"}), httpapi.NoopFinalizer{}, nil, nil)

	rec := postInference(t, h, map[string]any{
		"model_name": "dummy::good",
		"stream":     true,
		"input":      map[string]any{"messages": []map[string]any{}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "data: ")
	require.Contains(t, body, "event: done")

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	sawDataLine := false
	for scanner.Scan() {
		if bytes.HasPrefix(scanner.Bytes(), []byte("data: ")) {
			sawDataLine = true
		}
	}
	require.True(t, sawDataLine)
}
