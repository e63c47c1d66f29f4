// Package gdocs fetches remote documents and converts their structural
// elements into a doctree.Document.
package gdocs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/docards/internal/config"
	"github.com/dgallion1/docards/internal/doctree"
	"github.com/dgallion1/docards/internal/retry"
)

var (
	docURLRe = regexp.MustCompile(`/document/(?:u/\d+/)?d/([A-Za-z0-9_-]+)`)
	docIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{10,}$`)
)

// ResolveDocumentID accepts a bare document ID or a document URL and returns
// the ID. Anything else is a configuration error.
func ResolveDocumentID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &config.Error{Field: "DOCARDS_DOCUMENT", Problem: "is required"}
	}
	if m := docURLRe.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if docIDRe.MatchString(ref) {
		return ref, nil
	}
	return "", &config.Error{Field: "DOCARDS_DOCUMENT", Problem: fmt.Sprintf("%q is not a document ID or URL", ref)}
}

// Client reads documents from the documents API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiErrorEnvelope is the error body returned on non-2xx responses.
type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FetchDocument performs a single GET for the document and converts it.
// Failures are returned as *retry.StatusError so callers can classify them.
func (c *Client) FetchDocument(ctx context.Context, id string) (*doctree.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := retry.NewStatusError(resp, body)
		var env apiErrorEnvelope
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			se.Message = env.Error.Message
		}
		return nil, se
	}

	var raw apiDocument
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return raw.toDocument(), nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
