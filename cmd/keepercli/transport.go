package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/and161185/gokeeper-core/internal/errs"
	"github.com/and161185/gokeeper-core/internal/sync"
)

// RestyTransport is the reference internal/sync.Transport adapter: the
// core package treats HTTP as out of scope (spec §1), so this is what a
// consumer wires in. Wire shape follows Payload.Ejected's projection.
type RestyTransport struct {
	client *resty.Client
}

func NewRestyTransport(baseURL string) *RestyTransport {
	client := resty.New().SetBaseURL(baseURL)
	return &RestyTransport{client: client}
}

type wireRequest struct {
	Items            []map[string]any `json:"items"`
	SyncToken        string            `json:"sync_token"`
	CursorToken      string            `json:"cursor_token"`
	Limit            int               `json:"limit"`
	ComputeIntegrity bool              `json:"compute_integrity"`
}

type wireResponse struct {
	RetrievedItems []map[string]any `json:"retrieved_items"`
	SavedItems     []map[string]any `json:"saved_items"`
	Conflicts      []map[string]any `json:"conflicts"`
	SyncToken      string            `json:"sync_token"`
	CursorToken    string            `json:"cursor_token"`
	IntegrityHash  string            `json:"integrity_hash"`
}

type apiError struct {
	Message string `json:"message"`
}

func (t *RestyTransport) PostSync(ctx context.Context, req sync.Request) (sync.Response, error) {
	items := make([]map[string]any, len(req.Items))
	for i, p := range req.Items {
		items[i] = p.Ejected()
	}
	body := wireRequest{
		Items:            items,
		SyncToken:        req.SyncToken,
		CursorToken:      req.CursorToken,
		Limit:            req.Limit,
		ComputeIntegrity: req.ComputeIntegrity,
	}

	var out wireResponse
	var apiErr apiError
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/sync")
	if err != nil {
		return sync.Response{}, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return sync.Response{}, errs.ErrAuthFailure
	}
	if resp.IsError() {
		return sync.Response{}, fmt.Errorf("%w: status %d: %s", errs.ErrTransport, resp.StatusCode(), apiErr.Message)
	}

	return sync.Response{
		RetrievedItems: payloadsFromWire(out.RetrievedItems),
		SavedItems:     payloadsFromWire(out.SavedItems),
		Conflicts:      payloadsFromWire(out.Conflicts),
		SyncToken:      out.SyncToken,
		CursorToken:    out.CursorToken,
		IntegrityHash:  out.IntegrityHash,
	}, nil
}
