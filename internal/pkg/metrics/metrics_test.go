package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.MessageSent("text")
	m.MessageSent("text")
	m.MessageSent("image")
	m.ChatCreated("direct", true)
	m.ChatCreated("direct", false)
	m.MediaUploaded(true)
	m.EventPublishFailed()
	m.ObserveRequest("GET", "/api/chats", 200, 10*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chatsCreated.WithLabelValues("direct", "existing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mediaUploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailure))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MessageSent("text")
		m.ChatCreated("group", true)
		m.MediaUploaded(false)
		m.EventPublishFailed()
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessageSent("text")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `kaiflake_messages_sent_total{type="text"} 1`)
}
