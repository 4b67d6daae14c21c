package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xseries/mailclerk/internal/googleauth"
)

// fakeSheetsAPI is a minimal in-memory stand-in for the Sheets values
// API, tracking per-sheet rows.
type fakeSheetsAPI struct {
	t      *testing.T
	sheets map[string][][]any
	order  []string
}

func newFakeSheetsAPI(t *testing.T, existing ...string) *fakeSheetsAPI {
	f := &fakeSheetsAPI{t: t, sheets: make(map[string][][]any)}
	for _, s := range existing {
		f.sheets[s] = nil
		f.order = append(f.order, s)
	}
	return f
}

func (f *fakeSheetsAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			f.t.Errorf("missing bearer token, got %q", got)
		}
		path := r.URL.Path

		switch {
		case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
			sheet := f.sheetFromRange(path)
			json.NewEncoder(w).Encode(map[string]any{"values": f.sheets[sheet]})

		case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
			sheet := f.sheetFromRange(strings.TrimSuffix(path, ":append"))
			var body struct {
				Values [][]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.sheets[sheet] = append(f.sheets[sheet], body.Values...)
			json.NewEncoder(w).Encode(map[string]any{})

		case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
			sheet := f.sheetFromRange(path)
			var body struct {
				Values [][]any `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			cell := path[strings.LastIndex(path, "!")+1:]
			switch cell {
			case "A1":
				if len(f.sheets[sheet]) == 0 {
					f.sheets[sheet] = append(f.sheets[sheet], nil)
				}
				f.sheets[sheet][0] = body.Values[0]
			case "A2":
				f.sheets[sheet][1] = body.Values[0]
			default:
				f.t.Errorf("unexpected update cell %q", cell)
			}
			json.NewEncoder(w).Encode(map[string]any{})

		case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
			var body struct {
				Requests []map[string]json.RawMessage `json:"requests"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			for _, req := range body.Requests {
				if raw, ok := req["addSheet"]; ok {
					var add struct {
						Properties struct {
							Title string `json:"title"`
						} `json:"properties"`
					}
					json.Unmarshal(raw, &add)
					f.sheets[add.Properties.Title] = nil
					f.order = append(f.order, add.Properties.Title)
				}
				if raw, ok := req["insertRange"]; ok {
					var ins struct {
						Range struct {
							SheetID int64 `json:"sheetId"`
						} `json:"range"`
					}
					json.Unmarshal(raw, &ins)
					sheet := f.order[ins.Range.SheetID]
					rows := f.sheets[sheet]
					// blank row at index 1
					rows = append(rows[:1], append([][]any{nil}, rows[1:]...)...)
					f.sheets[sheet] = rows
				}
			}
			json.NewEncoder(w).Encode(map[string]any{})

		case r.Method == http.MethodGet: // spreadsheet metadata
			var sheetProps []map[string]any
			for i, title := range f.order {
				sheetProps = append(sheetProps, map[string]any{
					"properties": map[string]any{"sheetId": i, "title": title},
				})
			}
			json.NewEncoder(w).Encode(map[string]any{"sheets": sheetProps})

		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, path)
			http.NotFound(w, r)
		}
	})
}

func (f *fakeSheetsAPI) sheetFromRange(path string) string {
	rng := path[strings.LastIndex(path, "/")+1:]
	if i := strings.Index(rng, "!"); i >= 0 {
		return rng[:i]
	}
	return rng
}

func newTestClient(t *testing.T, api *fakeSheetsAPI) *Client {
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "spreadsheet-1", googleauth.StaticTokenSource("test-token"))
}

func TestEnsureSheets_CreatesMissingWithHeaders(t *testing.T) {
	api := newFakeSheetsAPI(t, SheetAllLogs) // only All-Logs pre-exists
	c := newTestClient(t, api)

	if err := c.EnsureSheets(context.Background()); err != nil {
		t.Fatalf("EnsureSheets failed: %v", err)
	}

	for _, title := range SheetOrder {
		if _, ok := api.sheets[title]; !ok {
			t.Errorf("sheet %s was not created", title)
		}
	}

	// Newly created sheets got their header row; the pre-existing one
	// was left alone.
	tech := api.sheets[SheetTechnical]
	if len(tech) == 0 || len(tech[0]) != len(Headers[SheetTechnical]) {
		t.Errorf("Technical_Issues header not written: %v", tech)
	}
	if len(api.sheets[SheetAllLogs]) != 0 {
		t.Errorf("pre-existing sheet should be untouched: %v", api.sheets[SheetAllLogs])
	}
}

func TestInsertTop_EmptySheetAppends(t *testing.T) {
	api := newFakeSheetsAPI(t, SheetRefund)
	api.sheets[SheetRefund] = [][]any{{"Timestamp", "App Name", "Email", "Order ID", "Status"}}
	c := newTestClient(t, api)

	err := c.InsertTop(context.Background(), SheetRefund, []string{"ts", "App", "a@b.c", "GPA.1", "Pending"})
	if err != nil {
		t.Fatalf("InsertTop failed: %v", err)
	}

	rows := api.sheets[SheetRefund]
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	if rows[1][3] != "GPA.1" {
		t.Errorf("row not appended under header: %v", rows[1])
	}
}

func TestInsertTop_NewestRowFirst(t *testing.T) {
	api := newFakeSheetsAPI(t, SheetRefund)
	api.sheets[SheetRefund] = [][]any{
		{"Timestamp", "App Name", "Email", "Order ID", "Status"},
		{"old-ts", "App", "old@b.c", "GPA.old", "Pending"},
	}
	c := newTestClient(t, api)

	err := c.InsertTop(context.Background(), SheetRefund, []string{"new-ts", "App", "new@b.c", "GPA.new", "Pending"})
	if err != nil {
		t.Fatalf("InsertTop failed: %v", err)
	}

	rows := api.sheets[SheetRefund]
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "new-ts" {
		t.Errorf("newest row should be directly under header, got %v", rows[1])
	}
	if rows[2][0] != "old-ts" {
		t.Errorf("older row should shift down, got %v", rows[2])
	}
}
