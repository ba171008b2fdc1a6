package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldtrace/logsync/internal/domain"
	"github.com/fieldtrace/logsync/internal/metrics"
)

// Remote column names of the analytics table.
const (
	fieldAgent           = "Field Agent"
	fieldTotalRequests   = "Total Requests"
	fieldPositiveCount   = "Positive Count"
	fieldForConfirmation = "For Confirmation Count"
	fieldUniqueScanned   = "Unique Scanned Count"
	fieldLogDate         = "Log Date"
)

const (
	tokenCacheKey  = "lark:tenant_access_token"
	tokenTTLMargin = 120 * time.Second
)

// APIError is a non-zero response code in the remote envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s", e.Code, e.Msg)
}

type Config struct {
	// BaseURL is the bitable apps root, e.g.
	// https://open.larksuite.com/open-apis/bitable/v1/apps
	BaseURL string
	// AuthURL issues tenant access tokens.
	AuthURL   string
	AppID     string
	AppSecret string
	// AppToken identifies the bitable app holding the analytics table.
	AppToken string
}

// Client implements domain.RemoteStore against a Lark-style bitable API.
// The tenant access token is cached in the injected TTL cache and
// refetched on miss.
type Client struct {
	cfg    Config
	cache  domain.Cache
	client *http.Client
	lg     zerolog.Logger
}

func NewClient(cfg Config, cache domain.Cache, lg zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	return &Client{
		cfg:    cfg,
		cache:  cache,
		client: &http.Client{Timeout: 15 * time.Second},
		lg:     lg.With().Str("component", "lark_client").Logger(),
	}
}

func (c *Client) CreateRecords(ctx context.Context, table string, fields []domain.RecordFields) ([]domain.RemoteRecord, error) {
	start := time.Now()
	defer metrics.ObserveRemoteCall("create_records", start)

	type record struct {
		Fields map[string]any `json:"fields"`
	}
	payload := struct {
		Records []record `json:"records"`
	}{}
	for _, f := range fields {
		payload.Records = append(payload.Records, record{Fields: encodeFields(f)})
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			Records []struct {
				RecordID string         `json:"record_id"`
				Fields   map[string]any `json:"fields"`
			} `json:"records"`
		} `json:"data"`
	}

	url := fmt.Sprintf("%s/%s/tables/%s/records/batch_create", c.cfg.BaseURL, c.cfg.AppToken, table)
	if err := c.do(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, &APIError{Code: resp.Code, Msg: resp.Msg}
	}

	out := make([]domain.RemoteRecord, 0, len(resp.Data.Records))
	for _, rec := range resp.Data.Records {
		out = append(out, domain.RemoteRecord{
			RemoteID: rec.RecordID,
			Fields:   decodeFields(rec.Fields),
		})
	}
	return out, nil
}

func (c *Client) UpdateRecords(ctx context.Context, table string, records []domain.RemoteRecord) error {
	start := time.Now()
	defer metrics.ObserveRemoteCall("update_records", start)

	type record struct {
		RecordID string         `json:"record_id"`
		Fields   map[string]any `json:"fields"`
	}
	payload := struct {
		Records []record `json:"records"`
	}{}
	for _, r := range records {
		payload.Records = append(payload.Records, record{
			RecordID: r.RemoteID,
			Fields:   encodeFields(r.Fields),
		})
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}

	url := fmt.Sprintf("%s/%s/tables/%s/records/batch_update", c.cfg.BaseURL, c.cfg.AppToken, table)
	if err := c.do(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return &APIError{Code: resp.Code, Msg: resp.Msg}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote store returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) tenantToken(ctx context.Context) (string, error) {
	if c.cache != nil {
		token, err := c.cache.Get(ctx, tokenCacheKey)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.lg.Warn().Err(err).Msg("token cache read failed; fetching fresh token")
		}
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", &APIError{Code: out.Code, Msg: out.Msg}
	}

	if c.cache != nil {
		ttl := time.Duration(out.Expire)*time.Second - tokenTTLMargin
		if ttl < time.Minute {
			ttl = time.Minute
		}
		if err := c.cache.Set(ctx, tokenCacheKey, out.TenantAccessToken, ttl); err != nil {
			c.lg.Warn().Err(err).Msg("token cache write failed")
		}
	}
	return out.TenantAccessToken, nil
}

func encodeFields(f domain.RecordFields) map[string]any {
	return map[string]any{
		fieldAgent:           []map[string]string{{"id": f.ActorReference}},
		fieldTotalRequests:   f.TotalRequests,
		fieldPositiveCount:   f.PositiveCount,
		fieldForConfirmation: f.ForConfirmationCount,
		fieldUniqueScanned:   f.UniqueScannedCount,
		fieldLogDate:         f.LogDate,
	}
}

func decodeFields(m map[string]any) domain.RecordFields {
	f := domain.RecordFields{
		TotalRequests:        asInt(m[fieldTotalRequests]),
		PositiveCount:        asInt(m[fieldPositiveCount]),
		ForConfirmationCount: asInt(m[fieldForConfirmation]),
		UniqueScannedCount:   asInt(m[fieldUniqueScanned]),
		LogDate:              int64(asInt(m[fieldLogDate])),
	}
	if agents, ok := m[fieldAgent].([]any); ok && len(agents) > 0 {
		if agent, ok := agents[0].(map[string]any); ok {
			if id, ok := agent["id"].(string); ok {
				f.ActorReference = id
			}
		}
	}
	return f
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := strconv.Atoi(n.String())
		return i
	}
	return 0
}
