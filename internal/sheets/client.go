package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/xseries/mailclerk/internal/googleauth"
)

// RowSink accepts rows for a named sheet. The Sheets client implements
// it against the live API; tests substitute an in-memory sink.
type RowSink interface {
	// InsertTop places a row directly under the header so the newest
	// entry is always row 2.
	InsertTop(ctx context.Context, sheet string, row []string) error
}

// Client talks to the Google Sheets values API for one spreadsheet.
type Client struct {
	spreadsheetID string
	baseURL       string
	tokens        googleauth.TokenSource
	httpClient    *http.Client

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewClient creates a Sheets client for the given spreadsheet.
func NewClient(baseURL, spreadsheetID string, tokens googleauth.TokenSource) *Client {
	return &Client{
		spreadsheetID: spreadsheetID,
		baseURL:       baseURL,
		tokens:        tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		sheetIDs: make(map[string]int64),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sheets API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

type spreadsheetInfo struct {
	Sheets []struct {
		Properties struct {
			SheetID int64  `json:"sheetId"`
			Title   string `json:"title"`
		} `json:"properties"`
	} `json:"sheets"`
}

// refreshSheetIDs loads the title -> sheetId mapping.
func (c *Client) refreshSheetIDs(ctx context.Context) error {
	var info spreadsheetInfo
	path := fmt.Sprintf("/spreadsheets/%s?fields=sheets.properties", c.spreadsheetID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sheetIDs = make(map[string]int64, len(info.Sheets))
	for _, s := range info.Sheets {
		c.sheetIDs[s.Properties.Title] = s.Properties.SheetID
	}
	return nil
}

func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	if err := c.refreshSheetIDs(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok = c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet not found: %s", title)
	}
	return id, nil
}

// EnsureSheets creates any missing sheets from SheetOrder and writes
// their header rows. Existing sheets are left alone.
func (c *Client) EnsureSheets(ctx context.Context) error {
	if err := c.refreshSheetIDs(ctx); err != nil {
		return err
	}

	var requests []map[string]any
	var created []string
	c.mu.Lock()
	for _, title := range SheetOrder {
		if _, ok := c.sheetIDs[title]; ok {
			continue
		}
		created = append(created, title)
		requests = append(requests, map[string]any{
			"addSheet": map[string]any{
				"properties": map[string]any{"title": title},
			},
		})
	}
	c.mu.Unlock()

	if len(requests) == 0 {
		return nil
	}

	path := fmt.Sprintf("/spreadsheets/%s:batchUpdate", c.spreadsheetID)
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"requests": requests}, nil); err != nil {
		return fmt.Errorf("creating sheets: %w", err)
	}
	if err := c.refreshSheetIDs(ctx); err != nil {
		return err
	}

	for _, title := range created {
		headers := Headers[title]
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		updatePath := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=RAW",
			c.spreadsheetID, url.PathEscape(title+"!A1"))
		body := map[string]any{"values": []any{row}}
		if err := c.do(ctx, http.MethodPut, updatePath, body, nil); err != nil {
			return fmt.Errorf("writing headers for %s: %w", title, err)
		}
	}
	return nil
}

type valuesResponse struct {
	Values [][]any `json:"values"`
}

// InsertTop writes row directly under the header. On a sheet holding
// only its header the row is appended; otherwise a blank row is
// inserted at index 1 and filled.
func (c *Client) InsertTop(ctx context.Context, sheet string, row []string) error {
	getPath := fmt.Sprintf("/spreadsheets/%s/values/%s", c.spreadsheetID, url.PathEscape(sheet+"!A:Z"))
	var existing valuesResponse
	if err := c.do(ctx, http.MethodGet, getPath, nil, &existing); err != nil {
		return fmt.Errorf("reading %s: %w", sheet, err)
	}

	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	body := map[string]any{"values": []any{cells}}

	if len(existing.Values) <= 1 {
		appendPath := fmt.Sprintf("/spreadsheets/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
			c.spreadsheetID, url.PathEscape(sheet+"!A:Z"))
		if err := c.do(ctx, http.MethodPost, appendPath, body, nil); err != nil {
			return fmt.Errorf("appending to %s: %w", sheet, err)
		}
		return nil
	}

	id, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}

	// Open a blank row at index 1, then fill it.
	shift := map[string]any{
		"requests": []any{
			map[string]any{
				"insertRange": map[string]any{
					"range": map[string]any{
						"sheetId":       id,
						"startRowIndex": 1,
						"endRowIndex":   2,
					},
					"shiftDimension": "ROWS",
				},
			},
		},
	}
	batchPath := fmt.Sprintf("/spreadsheets/%s:batchUpdate", c.spreadsheetID)
	if err := c.do(ctx, http.MethodPost, batchPath, shift, nil); err != nil {
		return fmt.Errorf("inserting row in %s: %w", sheet, err)
	}

	updatePath := fmt.Sprintf("/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.spreadsheetID, url.PathEscape(sheet+"!A2"))
	if err := c.do(ctx, http.MethodPut, updatePath, body, nil); err != nil {
		return fmt.Errorf("writing row to %s: %w", sheet, err)
	}
	return nil
}
