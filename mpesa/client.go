package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	tokenPath       = "/oauth/v1/generate?grant_type=client_credentials"
	registerURLPath = "/mpesa/c2b/v1/registerurl"
	stkPushPath     = "/mpesa/stkpush/v1/processrequest"

	defaultTokenLifetime = 3600 * time.Second
	maxErrorBody         = 4 << 10
)

// Config holds the Daraja endpoint and credentials.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CallbackURL     string
	TransactionType string
	// RegisterCallback toggles the registerurl call before every push.
	RegisterCallback bool
}

// Client talks to the Daraja HTTP API. It holds no credential state.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a Client. A nil httpClient gets a 30s default timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// ProviderError is a non-success answer from the provider.
type ProviderError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa: status %d code %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("mpesa: status %d: %s", e.StatusCode, e.Description)
}

// FetchToken requests a fresh access token and reports the lifetime the
// provider granted it.
func (c *Client) FetchToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, providerErrorFrom(resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", 0, fmt.Errorf("parse token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, errors.New("mpesa: empty access token")
	}
	return tok.AccessToken, parseLifetime(tok.ExpiresIn), nil
}

// expires_in arrives as a quoted string from Daraja but numeric from some
// proxies.
func parseLifetime(raw json.RawMessage) time.Duration {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return defaultTokenLifetime
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultTokenLifetime
	}
	return time.Duration(n) * time.Second
}

type registerURLRequest struct {
	ShortCode       string `json:"ShortCode"`
	ResponseType    string `json:"ResponseType"`
	ConfirmationURL string `json:"ConfirmationURL"`
	ValidationURL   string `json:"ValidationURL"`
}

type providerResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// RegisterURL registers the callback address for the short code. Transport
// failures are returned as errors; a provider rejection is returned as
// *ProviderError.
func (c *Client) RegisterURL(ctx context.Context, token string) error {
	payload := registerURLRequest{
		ShortCode:       c.cfg.ShortCode,
		ResponseType:    "Completed",
		ConfirmationURL: c.cfg.CallbackURL,
		ValidationURL:   c.cfg.CallbackURL,
	}
	var out providerResponse
	status, err := c.postJSON(ctx, registerURLPath, token, payload, &out)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &ProviderError{StatusCode: status, Code: out.ErrorCode, Description: firstNonEmpty(out.ErrorMessage, out.ResponseDescription, http.StatusText(status))}
	}
	if out.ResponseCode != "" && out.ResponseCode != "0" {
		return &ProviderError{StatusCode: status, Code: out.ResponseCode, Description: out.ResponseDescription}
	}
	return nil
}

// STKPushRequest is the processrequest body.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous acknowledgement of a push.
type STKPushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// STKPush sends a signed push request. Non-2xx and non-zero ResponseCode
// answers come back as *ProviderError.
func (c *Client) STKPush(ctx context.Context, token string, req STKPushRequest) (*STKPushResponse, error) {
	var out providerResponse
	status, err := c.postJSON(ctx, stkPushPath, token, req, &out)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &ProviderError{StatusCode: status, Code: out.ErrorCode, Description: firstNonEmpty(out.ErrorMessage, out.ResponseDescription, http.StatusText(status))}
	}
	if out.ResponseCode != "0" {
		return nil, &ProviderError{StatusCode: status, Code: out.ResponseCode, Description: firstNonEmpty(out.ResponseDescription, out.ErrorMessage, "STK push rejected")}
	}
	return &STKPushResponse{
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

// postJSON returns the HTTP status and decodes the body into out when it is
// JSON. Only transport and encoding problems are errors.
func (c *Client) postJSON(ctx context.Context, path, token string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read %s: %w", path, err)
	}
	if len(respBody) > 0 {
		_ = json.Unmarshal(respBody, out)
	}
	return resp.StatusCode, nil
}

func providerErrorFrom(status int, body []byte) *ProviderError {
	var out providerResponse
	if err := json.Unmarshal(body, &out); err == nil && (out.ErrorMessage != "" || out.ResponseDescription != "") {
		return &ProviderError{StatusCode: status, Code: out.ErrorCode, Description: firstNonEmpty(out.ErrorMessage, out.ResponseDescription)}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ProviderError{StatusCode: status, Description: firstNonEmpty(strings.TrimSpace(string(body)), http.StatusText(status))}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
