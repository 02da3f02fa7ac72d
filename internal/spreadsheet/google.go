package spreadsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"leadpipe/internal/config"
	"leadpipe/internal/constants"
	"leadpipe/pkg/metrics"
	"leadpipe/pkg/retry"
)

var scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
}

// GoogleSheet talks to the Sheets v4 REST API. The spreadsheet is resolved
// lazily, by ID or by title through Drive, on the first call.
type GoogleSheet struct {
	client     *http.Client
	sheetsURL  string
	driveURL   string
	title      string
	sheetTitle string
	limiter    *rate.Limiter
	policy     retry.Policy

	mu            sync.Mutex
	spreadsheetID string
	sheetID       int64
	resolved      bool
}

// APIError is a non-2xx answer from a Google API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google api returned status %d: %s", e.Status, e.Body)
}

// Retryable reports throttling and server errors. Drive and Sheets signal
// quota exhaustion with 403 rateLimitExceeded or userRateLimitExceeded.
func (e *APIError) Retryable() bool {
	switch {
	case e.Status == http.StatusTooManyRequests, e.Status >= http.StatusInternalServerError:
		return true
	case e.Status == http.StatusForbidden:
		return strings.Contains(strings.ToLower(e.Body), "ratelimitexceeded")
	}
	return false
}

// NewGoogleSheet authenticates with the service account in cfg.
func NewGoogleSheet(ctx context.Context, cfg config.SpreadsheetConfig) (*GoogleSheet, error) {
	creds := cfg.Credentials
	if creds.Type == "" {
		creds.Type = "service_account"
	}
	if creds.TokenURI == "" {
		creds.TokenURI = constants.GoogleTokenURI
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal service account: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := jwtConfig.Client(tokenCtx)
	client.Timeout = timeout

	return NewGoogleSheetWithClient(client, cfg), nil
}

// NewGoogleSheetWithClient uses client as is; it must already attach
// credentials.
func NewGoogleSheetWithClient(client *http.Client, cfg config.SpreadsheetConfig) *GoogleSheet {
	sheetsURL := cfg.SheetsURL
	if sheetsURL == "" {
		sheetsURL = constants.SheetsAPIURL
	}
	driveURL := cfg.DriveURL
	if driveURL == "" {
		driveURL = constants.DriveAPIURL
	}
	title := cfg.Title
	if title == "" {
		title = constants.DefaultSpreadsheetTitle
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &GoogleSheet{
		client:        client,
		sheetsURL:     strings.TrimRight(sheetsURL, "/"),
		driveURL:      driveURL,
		title:         title,
		sheetTitle:    cfg.SheetTitle,
		spreadsheetID: cfg.SpreadsheetID,
		limiter:       rate.NewLimiter(limit, 1),
		policy: retry.Policy{
			MaxAttempts:     4,
			InitialInterval: time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  time.Minute,
		},
	}
}

// WithPolicy replaces the retry policy for rate-limited or failed calls.
func (g *GoogleSheet) WithPolicy(p retry.Policy) *GoogleSheet {
	g.policy = p
	return g
}

type sheetProperties struct {
	SheetID        int64  `json:"sheetId"`
	Title          string `json:"title"`
	GridProperties struct {
		RowCount    int `json:"rowCount"`
		ColumnCount int `json:"columnCount"`
	} `json:"gridProperties"`
}

type spreadsheetMeta struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Sheets        []struct {
		Properties sheetProperties `json:"properties"`
	} `json:"sheets"`
}

func (g *GoogleSheet) Values(ctx context.Context) ([][]string, error) {
	if err := g.resolve(ctx); err != nil {
		return nil, err
	}

	var out struct {
		Values [][]interface{} `json:"values"`
	}
	endpoint := fmt.Sprintf("%s/%s/values/%s", g.sheetsURL, g.spreadsheetID, url.PathEscape(g.quotedTitle()))
	if err := g.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}

	rows := make([][]string, len(out.Values))
	for i, row := range out.Values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = fmt.Sprint(cell)
		}
	}
	return rows, nil
}

func (g *GoogleSheet) RowCount(ctx context.Context) (int, error) {
	if err := g.resolve(ctx); err != nil {
		return 0, err
	}
	props, err := g.properties(ctx)
	if err != nil {
		return 0, err
	}
	return props.GridProperties.RowCount, nil
}

func (g *GoogleSheet) AppendRows(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if err := g.resolve(ctx); err != nil {
		return err
	}
	return g.batchUpdate(ctx, map[string]interface{}{
		"appendDimension": map[string]interface{}{
			"sheetId":   g.sheetID,
			"dimension": "ROWS",
			"length":    n,
		},
	})
}

func (g *GoogleSheet) WriteRow(ctx context.Context, row int, values []string) error {
	return g.writeRange(ctx, fmt.Sprintf("A%d", row), values)
}

func (g *GoogleSheet) WriteCell(ctx context.Context, row, col int, value string) error {
	return g.writeRange(ctx, fmt.Sprintf("%s%d", ColumnLetter(col), row), []string{value})
}

func (g *GoogleSheet) SetRowBackground(ctx context.Context, row int, color Color) error {
	if err := g.resolve(ctx); err != nil {
		return err
	}
	return g.batchUpdate(ctx, map[string]interface{}{
		"repeatCell": map[string]interface{}{
			"range": map[string]interface{}{
				"sheetId":          g.sheetID,
				"startRowIndex":    row - 1,
				"endRowIndex":      row,
				"startColumnIndex": 0,
				"endColumnIndex":   ColumnCount,
			},
			"cell": map[string]interface{}{
				"userEnteredFormat": map[string]interface{}{
					"backgroundColor": color,
				},
			},
			"fields": "userEnteredFormat.backgroundColor",
		},
	})
}

// writeRange writes values starting at cell. RAW input keeps phone numbers
// and dates as the text the sheet's readers expect.
func (g *GoogleSheet) writeRange(ctx context.Context, cell string, values []string) error {
	if err := g.resolve(ctx); err != nil {
		return err
	}

	a1 := g.quotedTitle() + "!" + cell
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	body := map[string]interface{}{
		"range":          a1,
		"majorDimension": "ROWS",
		"values":         [][]interface{}{cells},
	}

	endpoint := fmt.Sprintf("%s/%s/values/%s?valueInputOption=RAW", g.sheetsURL, g.spreadsheetID, url.PathEscape(a1))
	if err := g.do(ctx, http.MethodPut, endpoint, body, nil); err != nil {
		return fmt.Errorf("write %s: %w", cell, err)
	}
	return nil
}

// batchUpdate sends one request; callers resolve first so sheetID is set.
func (g *GoogleSheet) batchUpdate(ctx context.Context, request map[string]interface{}) error {
	endpoint := fmt.Sprintf("%s/%s:batchUpdate", g.sheetsURL, g.spreadsheetID)
	body := map[string]interface{}{"requests": []interface{}{request}}
	if err := g.do(ctx, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	return nil
}

// resolve finds the spreadsheet and the worksheet the sinks write to. A
// failed lookup is retried on the next call.
func (g *GoogleSheet) resolve(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return nil
	}

	if g.spreadsheetID == "" {
		id, err := g.lookupByTitle(ctx)
		if err != nil {
			return err
		}
		g.spreadsheetID = id
	}

	props, err := g.propertiesLocked(ctx)
	if err != nil {
		return err
	}
	g.sheetID = props.SheetID
	g.sheetTitle = props.Title
	g.resolved = true
	return nil
}

func (g *GoogleSheet) lookupByTitle(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.spreadsheet' and trashed = false",
		strings.ReplaceAll(g.title, "'", `\'`)))
	q.Set("fields", "files(id,name)")
	q.Set("pageSize", "1")

	var out struct {
		Files []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"files"`
	}
	if err := g.do(ctx, http.MethodGet, g.driveURL+"?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("find spreadsheet %q: %w", g.title, err)
	}
	if len(out.Files) == 0 {
		return "", retry.NewFatalError(fmt.Errorf("spreadsheet %q not found", g.title))
	}
	return out.Files[0].ID, nil
}

func (g *GoogleSheet) properties(ctx context.Context) (sheetProperties, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.propertiesLocked(ctx)
}

// propertiesLocked returns the worksheet named sheetTitle, or the first one.
func (g *GoogleSheet) propertiesLocked(ctx context.Context) (sheetProperties, error) {
	var meta spreadsheetMeta
	endpoint := fmt.Sprintf("%s/%s?fields=spreadsheetId,sheets.properties", g.sheetsURL, g.spreadsheetID)
	if err := g.do(ctx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return sheetProperties{}, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	if len(meta.Sheets) == 0 {
		return sheetProperties{}, retry.NewFatalError(fmt.Errorf("spreadsheet %s has no sheets", g.spreadsheetID))
	}
	for _, s := range meta.Sheets {
		if g.sheetTitle != "" && s.Properties.Title == g.sheetTitle {
			return s.Properties, nil
		}
	}
	return meta.Sheets[0].Properties, nil
}

func (g *GoogleSheet) quotedTitle() string {
	return "'" + strings.ReplaceAll(g.sheetTitle, "'", "''") + "'"
}

// do performs one API call under the rate limiter, retrying throttling and
// server errors. Other client errors are fatal.
func (g *GoogleSheet) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return retry.NewFatalError(fmt.Errorf("marshal request: %w", err))
		}
	}

	return retry.RetryWithCallback(ctx, g.policy, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.NewFatalError(err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return retry.NewFatalError(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("sheets request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
			if apiErr.Retryable() {
				return apiErr
			}
			return retry.NewFatalError(apiErr)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("sheets")
	})
}
