package spreadsheet

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpipe/internal/config"
	"leadpipe/internal/delivery"
	"leadpipe/internal/logger"
	"leadpipe/internal/queue"
	"leadpipe/internal/sms"
	"leadpipe/pkg/circuitbreaker"
	"leadpipe/pkg/retry"
)

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

// fakeGoogle serves the subset of Drive and Sheets the client uses.
type fakeGoogle struct {
	mu       sync.Mutex
	calls    []recordedCall
	values   [][]string
	rowCount int
	failures map[string]int
	status   int
	failBody string
}

func (f *fakeGoogle) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		call := recordedCall{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery}
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				require.NoError(t, json.Unmarshal(data, &call.Body))
			}
		}
		f.calls = append(f.calls, call)

		key := r.Method + " " + r.URL.Path
		if f.failures[key] > 0 {
			f.failures[key]--
			body := f.failBody
			if body == "" {
				body = `{"error":{"message":"try later"}}`
			}
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(body))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/drive"):
			_, _ = w.Write([]byte(`{"files":[{"id":"sheet-123","name":"Panneaux Solaires - Publiweb"}]}`))
		case r.URL.Path == "/sheets/sheet-123":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"spreadsheetId": "sheet-123",
				"sheets": []interface{}{
					map[string]interface{}{"properties": map[string]interface{}{
						"sheetId": 42, "title": "Feuille 1",
						"gridProperties": map[string]interface{}{"rowCount": f.rowCount, "columnCount": 26},
					}},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/sheets/sheet-123/values/") && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"values": f.values})
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
}

func (f *fakeGoogle) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func newFakeGoogleSheet(t *testing.T, f *fakeGoogle) *GoogleSheet {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewGoogleSheetWithClient(srv.Client(), config.SpreadsheetConfig{
		SheetsURL: srv.URL + "/sheets",
		DriveURL:  srv.URL + "/drive/v3/files",
	}).WithPolicy(retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	})
}

func TestGoogleSheet_ResolvesByTitleAndReadsValues(t *testing.T) {
	f := &fakeGoogle{rowCount: 1000, values: [][]string{{"Type", "Statut"}, {"Maison"}}}
	g := newFakeGoogleSheet(t, f)

	values, err := g.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Type", "Statut"}, {"Maison"}}, values)

	n, err := g.RowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	calls := f.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, "/drive/v3/files", calls[0].Path)
	assert.Contains(t, calls[0].Query, "Panneaux+Solaires")
	assert.Equal(t, "/sheets/sheet-123", calls[1].Path)
	assert.Equal(t, "/sheets/sheet-123/values/%27Feuille%201%27", calls[2].Path)

	_, err = g.Values(context.Background())
	require.NoError(t, err)
	for _, c := range f.Calls()[3:] {
		assert.NotEqual(t, "/drive/v3/files", c.Path)
	}
}

func TestGoogleSheet_WritesRowAndCell(t *testing.T) {
	f := &fakeGoogle{rowCount: 10}
	g := newFakeGoogleSheet(t, f)

	require.NoError(t, g.WriteRow(context.Background(), 5, []string{"Maison", "Propriétaire"}))
	require.NoError(t, g.WriteCell(context.Background(), 5, ColStatus, UnsubscribedMarker))

	calls := f.Calls()
	row := calls[len(calls)-2]
	assert.Equal(t, http.MethodPut, row.Method)
	assert.Equal(t, "valueInputOption=RAW", row.Query)
	assert.Equal(t, "'Feuille 1'!A5", row.Body["range"])
	assert.Equal(t, []interface{}{[]interface{}{"Maison", "Propriétaire"}}, row.Body["values"])

	cell := calls[len(calls)-1]
	assert.Equal(t, "'Feuille 1'!K5", cell.Body["range"])
	assert.Equal(t, []interface{}{[]interface{}{"DÉSINSCRIT"}}, cell.Body["values"])
}

func TestGoogleSheet_BatchUpdates(t *testing.T) {
	f := &fakeGoogle{rowCount: 10}
	g := newFakeGoogleSheet(t, f)

	require.NoError(t, g.AppendRows(context.Background(), 3))
	require.NoError(t, g.SetRowBackground(context.Background(), 4, Alert))
	require.NoError(t, g.AppendRows(context.Background(), 0))

	calls := f.Calls()
	appendCall := calls[len(calls)-2]
	assert.Equal(t, "/sheets/sheet-123:batchUpdate", appendCall.Path)
	requests := appendCall.Body["requests"].([]interface{})
	dim := requests[0].(map[string]interface{})["appendDimension"].(map[string]interface{})
	assert.Equal(t, float64(42), dim["sheetId"])
	assert.Equal(t, float64(3), dim["length"])

	paint := calls[len(calls)-1].Body["requests"].([]interface{})[0].(map[string]interface{})["repeatCell"].(map[string]interface{})
	rng := paint["range"].(map[string]interface{})
	assert.Equal(t, float64(3), rng["startRowIndex"])
	assert.Equal(t, float64(4), rng["endRowIndex"])
	assert.Equal(t, float64(ColumnCount), rng["endColumnIndex"])
	assert.Equal(t, "userEnteredFormat.backgroundColor", paint["fields"])
}

func TestGoogleSheet_RetriesRateLimits(t *testing.T) {
	f := &fakeGoogle{
		rowCount: 10,
		status:   http.StatusTooManyRequests,
		failures: map[string]int{"GET /sheets/sheet-123/values/'Feuille 1'": 2},
	}
	g := newFakeGoogleSheet(t, f)

	_, err := g.Values(context.Background())
	require.NoError(t, err)
}

func TestGoogleSheet_ClientErrorsAreFatal(t *testing.T) {
	f := &fakeGoogle{
		rowCount: 10,
		status:   http.StatusForbidden,
		failures: map[string]int{"GET /sheets/sheet-123": 5},
	}
	g := newFakeGoogleSheet(t, f)

	_, err := g.Values(context.Background())
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, 4, f.failures["GET /sheets/sheet-123"])
}

func TestGoogleSheet_RetriesQuotaForbidden(t *testing.T) {
	f := &fakeGoogle{
		rowCount: 10,
		status:   http.StatusForbidden,
		failBody: `{"error":{"code":403,"errors":[{"domain":"usageLimits","reason":"userRateLimitExceeded"}]}}`,
		failures: map[string]int{"GET /drive/v3/files": 2},
	}
	g := newFakeGoogleSheet(t, f)

	_, err := g.Values(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.failures["GET /drive/v3/files"])
}

func TestAPIError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  APIError
		want bool
	}{
		{name: "too many requests", err: APIError{Status: http.StatusTooManyRequests}, want: true},
		{name: "server error", err: APIError{Status: http.StatusBadGateway}, want: true},
		{name: "quota forbidden", err: APIError{Status: http.StatusForbidden, Body: `"reason": "rateLimitExceeded"`}, want: true},
		{name: "permission forbidden", err: APIError{Status: http.StatusForbidden, Body: `"reason": "forbidden"`}},
		{name: "not found", err: APIError{Status: http.StatusNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestGoogleSheet_CancelledPacingIsNotFatal(t *testing.T) {
	f := &fakeGoogle{rowCount: 10}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	g := NewGoogleSheetWithClient(srv.Client(), config.SpreadsheetConfig{
		SpreadsheetID:     "sheet-123",
		SheetsURL:         srv.URL + "/sheets",
		DriveURL:          srv.URL + "/drive/v3/files",
		RequestsPerSecond: 0.5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := g.Values(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, retry.IsFatal(err))
}

func TestLeadSink_ShutdownDuringPacingRequeues(t *testing.T) {
	f := &fakeGoogle{rowCount: 10, values: [][]string{header}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	g := NewGoogleSheetWithClient(srv.Client(), config.SpreadsheetConfig{
		SpreadsheetID:     "sheet-123",
		SheetsURL:         srv.URL + "/sheets",
		DriveURL:          srv.URL + "/drive/v3/files",
		RequestsPerSecond: 1,
	})
	leads := queue.NewMemoryQueue("leads")
	dlq := queue.NewMemoryQueue("leads_dead_letter")
	entry, err := queue.NewEntry(houseOwner())
	require.NoError(t, err)
	require.NoError(t, leads.Enqueue(context.Background(), entry))

	w := delivery.NewWorker(leads, newTestSink(t, g, sms.NopSender{}), logger.NopLogger(),
		delivery.WithDeadLetter(dlq),
		delivery.WithMaxAttempts(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, delivery.OutcomeRequeued, outcome)

	pending, err := leads.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	n, err := dlq.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGoogleSheet_UsesConfiguredID(t *testing.T) {
	f := &fakeGoogle{rowCount: 10}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	g := NewGoogleSheetWithClient(srv.Client(), config.SpreadsheetConfig{
		SpreadsheetID: "sheet-123",
		SheetsURL:     srv.URL + "/sheets",
		DriveURL:      srv.URL + "/drive/v3/files",
	})
	_, err := g.RowCount(context.Background())
	require.NoError(t, err)
	for _, c := range f.Calls() {
		assert.NotEqual(t, "/drive/v3/files", c.Path)
	}
}

func TestNewGoogleSheet_RejectsMissingKey(t *testing.T) {
	_, err := NewGoogleSheet(context.Background(), config.SpreadsheetConfig{
		Credentials: config.ServiceAccountConfig{Type: "authorized_user"},
	})
	assert.Error(t, err)
}

func TestCircuitBreakerSheet(t *testing.T) {
	sheet := newMemorySheet(10)
	sheet.failValues = assert.AnError
	cb := NewCircuitBreakerSheet(sheet, "sheets-test", circuitbreaker.DefaultConfig("sheets-test"))

	for i := 0; i < 3; i++ {
		_, err := cb.Values(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", cb.State())

	_, err := cb.Values(context.Background())
	assert.Contains(t, err.Error(), "circuit breaker is open")

	n, err := NewCircuitBreakerSheet(newMemorySheet(7), "ok", circuitbreaker.DefaultConfig("ok")).RowCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestWrapWithCircuitBreaker(t *testing.T) {
	sheet := newMemorySheet(1)
	assert.Same(t, Sheet(sheet), WrapWithCircuitBreaker(sheet, "sheets", config.CircuitBreakerConfig{}))
	_, ok := WrapWithCircuitBreaker(sheet, "sheets", config.CircuitBreakerConfig{Enabled: true}).(*CircuitBreakerSheet)
	assert.True(t, ok)
}
