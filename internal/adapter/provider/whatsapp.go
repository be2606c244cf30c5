package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"metered-messaging/config"
	"metered-messaging/internal/core/ports"

	"github.com/rs/zerolog"
)

// NewSendTransport selects the WhatsApp transport by configuration.
// Unknown values fall back to Dialog360.
func NewSendTransport(cfg config.WhatsAppConfig, log zerolog.Logger) ports.SendTransport {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Provider == "cloud" {
		return &CloudAPITransport{
			base:    strings.TrimRight(cfg.CloudBaseURL, "/"),
			token:   cfg.CloudToken,
			phoneID: cfg.CloudPhoneID,
			client:  client,
			log:     log,
		}
	}
	return &Dialog360Transport{
		base:   strings.TrimRight(cfg.Dialog360BaseURL, "/"),
		apiKey: cfg.Dialog360APIKey,
		client: client,
		log:    log,
	}
}

// Dialog360Transport sends via the 360dialog WhatsApp Business API.
type Dialog360Transport struct {
	base   string
	apiKey string
	client *http.Client
	log    zerolog.Logger
}

// Name returns the provider label used in metrics.
func (t *Dialog360Transport) Name() string { return "dialog360" }

// Send delivers one message. A non-2xx provider response is a SendResult
// with OK false, not a Go error; Go errors are transport-level only.
func (t *Dialog360Transport) Send(ctx context.Context, tenantID string, msg ports.OutboundMessage) (ports.SendResult, error) {
	body := map[string]any{"to": msg.To}
	if msg.TemplateID != "" {
		body["type"] = "template"
		body["template"] = map[string]any{
			"name":       msg.TemplateID,
			"language":   map[string]string{"code": "en"},
			"parameters": msg.Params,
		}
	} else {
		body["type"] = "text"
		body["text"] = map[string]string{"body": msg.Text}
	}

	headers := map[string]string{
		"D360-API-KEY": t.apiKey,
		"Content-Type": "application/json",
	}
	return post(ctx, t.client, t.log, t.base+"/v1/messages", headers, body)
}

// CloudAPITransport sends via the Meta WhatsApp Cloud API.
type CloudAPITransport struct {
	base    string
	token   string
	phoneID string
	client  *http.Client
	log     zerolog.Logger
}

// Name returns the provider label used in metrics.
func (t *CloudAPITransport) Name() string { return "cloud" }

// Send delivers one message through the Cloud API messages endpoint.
func (t *CloudAPITransport) Send(ctx context.Context, tenantID string, msg ports.OutboundMessage) (ports.SendResult, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.To,
	}
	if msg.TemplateID != "" {
		body["type"] = "template"
		body["template"] = map[string]any{
			"name":       msg.TemplateID,
			"language":   map[string]string{"code": "en"},
			"parameters": msg.Params,
		}
	} else {
		body["type"] = "text"
		body["text"] = map[string]string{"body": msg.Text}
	}

	headers := map[string]string{
		"Authorization": "Bearer " + t.token,
		"Content-Type":  "application/json",
	}
	return post(ctx, t.client, t.log, fmt.Sprintf("%s/%s/messages", t.base, t.phoneID), headers, body)
}

func post(ctx context.Context, client *http.Client, log zerolog.Logger, url string, headers map[string]string, body map[string]any) (ports.SendResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("build send request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.SendResult{}, fmt.Errorf("read send response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.SendResult{
			OK:    false,
			Error: fmt.Sprintf("provider status %d: %s", resp.StatusCode, string(raw)),
		}, nil
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// The send went through; only the provider ref is lost.
		log.Debug().Err(err).Str("url", url).Msg("unparseable provider response body")
	}

	res := ports.SendResult{OK: true}
	if len(parsed.Messages) > 0 {
		res.ProviderRef = parsed.Messages[0].ID
	}
	return res, nil
}
