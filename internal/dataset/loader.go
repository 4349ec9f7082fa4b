package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// maxDownloadBytes caps a single resource download.
const maxDownloadBytes = 50 << 20

// Loader downloads and parses quiz resources.
type Loader struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLoader creates a resource loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// NewLoaderWithClient creates a loader with a custom HTTP client.
func NewLoaderWithClient(client *http.Client, logger *zap.Logger) *Loader {
	return &Loader{httpClient: client, logger: logger}
}

// LoadFiles downloads each URL and parses it by extension and content type.
// Any download or parse failure aborts the whole load; quizzes that name a
// file expect it to be usable.
func (l *Loader) LoadFiles(ctx context.Context, urls []string) (Bundle, error) {
	bundle := make(Bundle, len(urls))
	for i, u := range urls {
		l.logger.Info("downloading file",
			zap.Int("index", i+1), zap.Int("total", len(urls)), zap.String("url", u))

		data, contentType, err := l.fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", u, err)
		}

		value, err := parseFile(u, contentType, data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", u, err)
		}
		bundle[u] = value
		l.logger.Info("loaded file", zap.String("url", u), zap.String("shape", value.Describe()))
	}
	return bundle, nil
}

// FetchAPIs fetches each API URL with email/secret merged into its query
// string. Existing query parameters are preserved. Entries are keyed by the
// original URL, not the authenticated one.
func (l *Loader) FetchAPIs(ctx context.Context, urls []string, email, secret string) (Bundle, error) {
	bundle := make(Bundle, len(urls))
	for _, raw := range urls {
		authed, err := AuthenticateURL(raw, email, secret)
		if err != nil {
			return nil, fmt.Errorf("api url %s: %w", raw, err)
		}

		data, _, err := l.fetch(ctx, authed)
		if err != nil {
			return nil, fmt.Errorf("fetch api %s: %w", raw, err)
		}

		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("api %s returned non-JSON body: %w", raw, err)
		}
		bundle[raw] = &JSONValue{V: v}
		l.logger.Info("fetched api", zap.String("url", raw))
	}
	return bundle, nil
}

// AuthenticateURL merges email/secret into the URL's query string without
// disturbing other parameters.
func AuthenticateURL(raw, email, secret string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("email", email)
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *Loader) fetch(ctx context.Context, u string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func parseFile(u, contentType string, data []byte) (Value, error) {
	switch {
	case hasExt(u, ".csv") || strings.Contains(contentType, "text/csv"):
		return parseCSV(data)
	case hasExt(u, ".xlsx") || hasExt(u, ".xls"):
		return parseXLSX(data)
	case hasExt(u, ".pdf") || strings.Contains(contentType, "application/pdf"):
		return parsePDF(data)
	case hasExt(u, ".json") || strings.Contains(contentType, "application/json"):
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return &JSONValue{V: v}, nil
	default:
		return &Blob{ContentType: contentType, Data: data}, nil
	}
}

func hasExt(rawURL, ext string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ext)
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ext)
}

func parseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	return &Table{Columns: records[0], Rows: records[1:]}, nil
}

func parseXLSX(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	return &Table{Columns: rows[0], Rows: rows[1:]}, nil
}

func parsePDF(data []byte) (*Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	doc := &Document{}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			doc.PageTexts = append(doc.PageTexts, "")
			doc.PageTables = append(doc.PageTables, nil)
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A page that fails text extraction still counts as a page.
			text = ""
		}
		doc.PageTexts = append(doc.PageTexts, text)
		doc.PageTables = append(doc.PageTables, extractTables(page))
	}
	return doc, nil
}

// extractTables approximates table recovery by grouping a page's text rows on
// shared Y coordinates. It catches grid-layout tables, which is what quiz
// PDFs use.
func extractTables(page pdf.Page) [][][]string {
	rows, err := page.GetTextByRow()
	if err != nil || len(rows) == 0 {
		return nil
	}

	var table [][]string
	for _, row := range rows {
		if len(row.Content) < 2 {
			continue
		}
		cells := make([]string, 0, len(row.Content))
		for _, word := range row.Content {
			cells = append(cells, word.S)
		}
		table = append(table, cells)
	}
	if len(table) == 0 {
		return nil
	}
	return [][][]string{table}
}
