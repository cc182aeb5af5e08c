// Package cloudflare is the DNS reconciler: a minimal Cloudflare API client
// for zone lookup and idempotent record upserts.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const baseURL = "https://api.cloudflare.com/client/v4"

// Action describes what EnsureDNS did to converge a record. Callers use it
// to decide whether a change is worth logging.
type Action string

// EnsureDNS outcomes.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionExists  Action = "exists"
)

// Client is a Cloudflare API client scoped to one credential.
type Client struct {
	apiToken   string
	accountID  string
	httpClient *http.Client
}

// Zone is a managed DNS zone.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is a DNS record within a zone.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// EnsureResult reports the outcome of one record reconciliation.
type EnsureResult struct {
	Action   Action
	ZoneID   string
	RecordID string
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type resultInfo struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
}

type listResponse struct {
	Success    bool       `json:"success"`
	Errors     []apiError `json:"errors"`
	Result     []Record   `json:"result"`
	ResultInfo resultInfo `json:"result_info"`
}

// NewClient creates a client for the given API token and account.
func NewClient(apiToken, accountID string) *Client {
	return &Client{
		apiToken:   apiToken,
		accountID:  accountID,
		httpClient: &http.Client{},
	}
}

// GetZone looks up the zone covering hostname by its registrable root (the
// last two dot-separated labels). Returns nil if no zone matches.
func (c *Client) GetZone(ctx context.Context, hostname string) (*Zone, error) {
	root := registrableRoot(hostname)
	req, err := c.newRequest(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(root)+"&per_page=1", nil)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("get zone for %s: %w", hostname, err)
	}

	var zones []Zone
	if err := json.Unmarshal(resp.Result, &zones); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	if len(zones) == 0 {
		return nil, nil
	}
	return &zones[0], nil
}

// EnsureDNS converges one record of recordType for hostname onto target.
// The three-way outcome is exact: an existing record with the desired
// content reports exists, one with different content is updated in place,
// and a missing record is created. The provider-assigned record id is
// returned in every case.
func (c *Client) EnsureDNS(ctx context.Context, hostname, target, recordType string) (EnsureResult, error) {
	zone, err := c.GetZone(ctx, hostname)
	if err != nil {
		return EnsureResult{}, err
	}
	if zone == nil {
		return EnsureResult{}, fmt.Errorf("no zone found for %s", hostname)
	}

	existing, err := c.findRecords(ctx, zone.ID, hostname, recordType)
	if err != nil {
		return EnsureResult{}, err
	}

	if len(existing) > 0 {
		record := existing[0]
		if record.Content == target {
			return EnsureResult{Action: ActionExists, ZoneID: zone.ID, RecordID: record.ID}, nil
		}
		updated, err := c.patchRecord(ctx, zone.ID, record.ID, target)
		if err != nil {
			return EnsureResult{}, err
		}
		return EnsureResult{Action: ActionUpdated, ZoneID: zone.ID, RecordID: updated.ID}, nil
	}

	created, err := c.createRecord(ctx, zone.ID, hostname, target, recordType)
	if err != nil {
		return EnsureResult{}, err
	}
	return EnsureResult{Action: ActionCreated, ZoneID: zone.ID, RecordID: created.ID}, nil
}

// Verify confirms the credential can list at least one zone. It is a
// validity probe, not a business operation.
func (c *Client) Verify(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/zones?per_page=1", nil)
	if err != nil {
		return err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("verify credential: %w", err)
	}

	var zones []Zone
	if err := json.Unmarshal(resp.Result, &zones); err != nil {
		return fmt.Errorf("parse zones: %w", err)
	}
	if len(zones) == 0 {
		return fmt.Errorf("credential lists no zones")
	}
	return nil
}

// ListRecords returns all DNS records in the zone, following pagination.
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	var all []Record
	page := 1

	for {
		req, err := c.newRequest(ctx, http.MethodGet,
			fmt.Sprintf("/zones/%s/dns_records?per_page=100&page=%d", zoneID, page), nil)
		if err != nil {
			return nil, err
		}

		var resp listResponse
		if err := c.doList(req, &resp); err != nil {
			return nil, fmt.Errorf("list DNS records page %d: %w", page, err)
		}

		all = append(all, resp.Result...)

		if page >= resp.ResultInfo.TotalPages {
			break
		}
		page++
	}

	return all, nil
}

// DeleteRecord deletes a DNS record by id. Used when a Domain row is
// explicitly removed.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID), nil)
	if err != nil {
		return err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("delete DNS record %s: %w", recordID, err)
	}
	return nil
}

func (c *Client) findRecords(ctx context.Context, zoneID, hostname, recordType string) ([]Record, error) {
	path := fmt.Sprintf("/zones/%s/dns_records?name=%s&type=%s",
		zoneID, url.QueryEscape(hostname), url.QueryEscape(recordType))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("list records for %s: %w", hostname, err)
	}

	var records []Record
	if err := json.Unmarshal(resp.Result, &records); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	return records, nil
}

func (c *Client) patchRecord(ctx context.Context, zoneID, recordID, target string) (*Record, error) {
	body, err := json.Marshal(map[string]any{"content": target, "proxied": true})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPatch,
		fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("update record %s: %w", recordID, err)
	}

	var record Record
	if err := json.Unmarshal(resp.Result, &record); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &record, nil
}

func (c *Client) createRecord(ctx context.Context, zoneID, hostname, target, recordType string) (*Record, error) {
	body, err := json.Marshal(map[string]any{
		"type":    recordType,
		"name":    hostname,
		"content": target,
		"proxied": true,
	})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/zones/%s/dns_records", zoneID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("create record for %s: %w", hostname, err)
	}

	var record Record
	if err := json.Unmarshal(resp.Result, &record); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &record, nil
}

// registrableRoot derives the registrable root of a hostname: the last two
// dot-separated labels.
func registrableRoot(hostname string) string {
	parts := strings.Split(hostname, ".")
	if len(parts) <= 2 {
		return hostname
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out *apiResponse) error {
	body, status, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (status %d)", err, status)
	}
	if !out.Success {
		return fmt.Errorf("API error (status %d): %s", status, joinErrors(out.Errors))
	}
	return nil
}

func (c *Client) doList(req *http.Request, out *listResponse) error {
	body, status, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w (status %d)", err, status)
	}
	if !out.Success {
		return fmt.Errorf("API error (status %d): %s", status, joinErrors(out.Errors))
	}
	return nil
}

func (c *Client) roundTrip(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func joinErrors(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, ", ")
}
