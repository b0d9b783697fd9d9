// Package sheet exposes the external tabular store consumed by the ledger,
// claim, and bridge tables. The store offers range reads, row appends, and
// range overwrites with no transactional guarantees across calls; callers that
// need atomicity must serialize their own read-modify-write sequences.
package sheet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Tab names used by the node and the bridge relayer.
const (
	TabBalances     = "Balances"
	TabTransactions = "Transactions"
	TabClaims       = "Claims"
	TabBridge       = "Bridge"
)

// Client is the tabular store contract. A range spec uses the familiar
// "Tab!A:C" or "Tab!A2:C2" notation.
type Client interface {
	ReadRange(ctx context.Context, rangeSpec string) ([][]string, error)
	AppendRow(ctx context.Context, table string, row []string) error
	UpdateRange(ctx context.Context, rangeSpec string, rows [][]string) error
}

// RowRange formats a single-row range spec for the given tab, 1-based row
// index, and inclusive column span (e.g. RowRange("Balances", 3, "A", "C")).
func RowRange(tab string, row int, firstCol, lastCol string) string {
	return fmt.Sprintf("%s!%s%d:%s%d", tab, firstCol, row, lastCol, row)
}

// ColumnRange formats an open-ended column range spec (e.g. "Balances!A:C").
func ColumnRange(tab, firstCol, lastCol string) string {
	return fmt.Sprintf("%s!%s:%s", tab, firstCol, lastCol)
}

// HTTPClient talks to a remote spreadsheet values API. The wire shape follows
// the Google Sheets v4 values surface: GET for reads, POST :append for row
// appends, PUT for range overwrites, all with valueInputOption=RAW.
type HTTPClient struct {
	endpoint      string
	spreadsheetID string
	token         string
	httpClient    *http.Client
}

// HTTPClientConfig carries the remote store coordinates.
type HTTPClientConfig struct {
	Endpoint      string
	SpreadsheetID string
	Token         string
	Timeout       time.Duration
}

// NewHTTPClient validates the coordinates and returns a ready client. The
// per-call timeout is the only client-side retry/timeout discipline; the
// consumers above this layer treat store failures as request-scoped errors.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("sheet: endpoint required")
	}
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, fmt.Errorf("sheet: spreadsheet id required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint:      endpoint,
		spreadsheetID: id,
		token:         strings.TrimSpace(cfg.Token),
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

type valuesPayload struct {
	Values [][]any `json:"values"`
}

func (c *HTTPClient) valuesURL(rangeSpec, verb string, query url.Values) string {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.endpoint, c.spreadsheetID, url.PathEscape(rangeSpec))
	if verb != "" {
		u += ":" + verb
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sheet: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("sheet: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sheet: store unreachable: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sheet: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sheet: store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

// ReadRange returns the populated rows of the range. Cells arrive as strings;
// trailing empty cells may be absent entirely, so callers index defensively.
func (c *HTTPClient) ReadRange(ctx context.Context, rangeSpec string) ([][]string, error) {
	payload, err := c.do(ctx, http.MethodGet, c.valuesURL(rangeSpec, "", nil), nil)
	if err != nil {
		return nil, err
	}
	var decoded valuesPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("sheet: decode range %s: %w", rangeSpec, err)
	}
	rows := make([][]string, 0, len(decoded.Values))
	for _, raw := range decoded.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRow appends a single row to the end of the table.
func (c *HTTPClient) AppendRow(ctx context.Context, table string, row []string) error {
	query := url.Values{}
	query.Set("valueInputOption", "RAW")
	query.Set("insertDataOption", "INSERT_ROWS")
	body := map[string]any{"values": [][]string{row}}
	rangeSpec := table + "!A:A"
	if _, err := c.do(ctx, http.MethodPost, c.valuesURL(rangeSpec, "append", query), body); err != nil {
		return fmt.Errorf("append row to %s: %w", table, err)
	}
	return nil
}

// UpdateRange overwrites the cells of the range with the supplied rows.
func (c *HTTPClient) UpdateRange(ctx context.Context, rangeSpec string, rows [][]string) error {
	query := url.Values{}
	query.Set("valueInputOption", "RAW")
	body := map[string]any{"values": rows}
	if _, err := c.do(ctx, http.MethodPut, c.valuesURL(rangeSpec, "", query), body); err != nil {
		return fmt.Errorf("update range %s: %w", rangeSpec, err)
	}
	return nil
}
