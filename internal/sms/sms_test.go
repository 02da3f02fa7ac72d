package sms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipe/internal/config"
	"leadpipe/internal/lead"
	"leadpipe/pkg/circuitbreaker"
	"leadpipe/pkg/retry"
)

func testClient(endpoint string) *VonageClient {
	return NewVonageClient(config.SMSConfig{
		APIKey:    "key",
		APISecret: "secret",
		Endpoint:  endpoint,
	}).WithPolicy(retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	})
}

func TestVonageClient_Send(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message-count":"1","messages":[{"to":"33612345678","status":"0"}]}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).Send(context.Background(), Message{To: "+33612345678", Text: "Bonjour"})
	require.NoError(t, err)

	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "secret", form["api_secret"])
	assert.Equal(t, "RDV TEL", form["from"])
	assert.Equal(t, "33612345678", form["to"])
	assert.Equal(t, "Bonjour", form["text"])
	assert.Equal(t, "unicode", form["type"])
}

func TestVonageClient_RejectedStatusIsFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"message-count":"1","messages":[{"status":"4","error-text":"Bad Credentials"}]}`))
	}))
	defer srv.Close()

	err := testClient(srv.URL).Send(context.Background(), Message{To: "33612345678", Text: "x"})
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err))
	assert.Contains(t, err.Error(), "Bad Credentials")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "4", statusErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestVonageClient_RetriesThrottling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			_, _ = w.Write([]byte(`{"messages":[{"status":"1","error-text":"Throttled"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"messages":[{"status":"0"}]}`))
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).Send(context.Background(), Message{To: "33612345678", Text: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestVonageClient_ServerErrorsExhaustRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv.URL).Send(context.Background(), Message{To: "33612345678", Text: "x"})
	require.Error(t, err)
	assert.False(t, retry.IsFatal(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVonageClient_EmptyRecipient(t *testing.T) {
	err := testClient("http://127.0.0.1:0").Send(context.Background(), Message{Text: "x"})
	assert.True(t, retry.IsFatal(err))
}

type failingSender struct{ calls int }

func (f *failingSender) Send(ctx context.Context, msg Message) error {
	f.calls++
	return errors.New("gateway down")
}

func TestCircuitBreakerSender_OpensAfterFailures(t *testing.T) {
	inner := &failingSender{}
	sender := NewCircuitBreakerSender(inner, "sms-test", circuitbreaker.DefaultConfig("sms-test"))

	for i := 0; i < 3; i++ {
		require.Error(t, sender.Send(context.Background(), Message{To: "1"}))
	}
	assert.Equal(t, "open", sender.State())

	err := sender.Send(context.Background(), Message{To: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 3, inner.calls)
}

func TestWrapWithCircuitBreaker_Disabled(t *testing.T) {
	inner := &failingSender{}
	assert.Same(t, Sender(inner), WrapWithCircuitBreaker(inner, "sms", config.CircuitBreakerConfig{}))
}

func TestTemplater_DefaultMessage(t *testing.T) {
	tpl, err := NewTemplater("")
	require.NoError(t, err)

	msg, err := tpl.Compose(lead.Record{Phone: "33612345678", FirstName: "Jean", LastName: "Dupont", DossierCode: "AB12"})
	require.NoError(t, err)

	assert.Equal(t, "33612345678", msg.To)
	assert.Contains(t, msg.Text, "Bonjour Jean Dupont\n")
	assert.Contains(t, msg.Text, "code dossier AB12 ")
	assert.Contains(t, msg.Text, "https://aud.vc/annulationPVML")
}

func TestTemplater_Custom(t *testing.T) {
	tpl, err := NewTemplater("{{ first_name | upcase }} / {{ department }}")
	require.NoError(t, err)

	text, err := tpl.Render(lead.Record{FirstName: "jean", Department: "75"})
	require.NoError(t, err)
	assert.Equal(t, "JEAN / 75", text)
}

func TestTemplater_InvalidSource(t *testing.T) {
	_, err := NewTemplater("{% if %}")
	assert.Error(t, err)
}

func TestNopSender(t *testing.T) {
	assert.ErrorIs(t, NopSender{}.Send(context.Background(), Message{}), ErrNotConfigured)
}
