// Package whatsapp sends messages through the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/unclebandit/wa-broadcast/internal/messaging"
)

var requestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "wa_broadcast",
		Name:      "whatsapp_request_duration_seconds",
		Help:      "Duration of HTTP requests to the WhatsApp Cloud API.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"kind", "outcome"},
)

// Options configures a Client. Token and PhoneNumberID are the defaults used
// when a send carries no identity of its own.
type Options struct {
	BaseURL       string
	APIVersion    string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	log        *zap.Logger
	httpClient *http.Client
	baseURL    string
	version    string
	token      string
	phoneID    string
}

func NewClient(log *zap.Logger, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		log:        log.With(zap.String("provider", "whatsapp")),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		version:    strings.Trim(opts.APIVersion, "/"),
		token:      opts.Token,
		phoneID:    opts.PhoneNumberID,
	}
}

// DefaultIdentity is the configured fallback sender.
func (c *Client) DefaultIdentity() messaging.SenderIdentity {
	return messaging.SenderIdentity{PhoneNumberID: c.phoneID, AccessToken: c.token}
}

// APIError is a rejected send: a non-2xx status, or a 2xx reply without a
// message id.
type APIError struct {
	StatusCode int
	Code       int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("whatsapp api error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("whatsapp api error: status %d: %s", e.StatusCode, e.Message)
}

type mediaObject struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type textObject struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textObject  `json:"text,omitempty"`
	Image            *mediaObject `json:"image,omitempty"`
	Video            *mediaObject `json:"video,omitempty"`
	Document         *mediaObject `json:"document,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func buildRequest(to string, msg messaging.OutboundMessage) (sendRequest, error) {
	req := sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             string(msg.Kind),
	}
	media := &mediaObject{Link: msg.MediaURL, Caption: msg.Caption}
	switch msg.Kind {
	case messaging.KindText:
		req.Text = &textObject{Body: msg.Text, PreviewURL: strings.Contains(msg.Text, "http")}
	case messaging.KindImage:
		req.Image = media
	case messaging.KindVideo:
		req.Video = media
	case messaging.KindDocument:
		req.Document = media
	default:
		return req, fmt.Errorf("unsupported message kind %q", msg.Kind)
	}
	return req, nil
}

// Send posts msg to {base}/{version}/{phone_number_id}/messages and returns
// the provider message id.
func (c *Client) Send(ctx context.Context, to string, msg messaging.OutboundMessage, from messaging.SenderIdentity) (string, error) {
	phoneID := from.PhoneNumberID
	if phoneID == "" {
		phoneID = c.phoneID
	}
	token := from.AccessToken
	if token == "" {
		token = c.token
	}
	if phoneID == "" {
		return "", errors.New("whatsapp: no sender phone number id")
	}

	payload, err := buildRequest(to, msg)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, phoneID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create whatsapp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	outcome := "error"
	defer func() {
		requestDuration.WithLabelValues(string(msg.Kind), outcome).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read whatsapp response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error.Message != "" {
			apiErr.Message = er.Error.Message
			apiErr.Code = er.Error.Code
			apiErr.Type = er.Error.Type
		}
		c.log.Warn("send rejected",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("code", apiErr.Code),
			zap.String("kind", string(msg.Kind)),
		)
		return "", apiErr
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("decode whatsapp response: %w", err)
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "response carried no message id"}
	}

	outcome = "ok"
	c.log.Debug("message accepted", zap.String("provider_message_id", sr.Messages[0].ID), zap.String("kind", string(msg.Kind)))
	return sr.Messages[0].ID, nil
}

var _ messaging.Sender = (*Client)(nil)
