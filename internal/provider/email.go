package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"renonotify/config"
	"renonotify/internal/model"
	"renonotify/internal/template"
	"renonotify/pkg/circuitbreaker"
	"renonotify/pkg/metrics"
)

// EmailProvider delivers email through an HTTP transactional-mail API. The
// circuit breaker keeps a dead provider from stalling whole dispatch
// batches: an open breaker fails fast as a transient error.
type EmailProvider struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewEmailProvider(cfg config.ProviderConfig, logger *zap.Logger) *EmailProvider {
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}

	return &EmailProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		cb:     circuitbreaker.NewCircuitBreaker(cbConfig),
		logger: logger,
	}
}

func (p *EmailProvider) Name() string { return "email-http" }

type emailSendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
}

type emailSendResponse struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (p *EmailProvider) Send(ctx context.Context, recipient string, content *template.RenderedContent) (string, error) {
	to := recipient
	if p.cfg.DebugRecipient != "" {
		to = p.cfg.DebugRecipient
	}

	var providerID string
	err := p.cb.Execute(func() error {
		start := time.Now()

		body, err := json.Marshal(emailSendRequest{
			From:     p.cfg.Sender,
			To:       to,
			Subject:  content.Subject,
			BodyHTML: content.BodyHTML,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

		resp, err := p.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordProviderCallLatency(string(model.ChannelEmail), "error", latency)
			return err
		}
		defer resp.Body.Close()

		metrics.RecordProviderCallLatency(string(model.ChannelEmail), fmt.Sprintf("%d", resp.StatusCode), latency)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return decodeSendError(resp)
		}

		var decoded emailSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return &SendError{Kind: FailureTransient, Code: "bad_response", Message: err.Error()}
		}
		providerID = decoded.MessageID
		return nil
	})

	if err != nil {
		if err == circuitbreaker.ErrCircuitBreakerOpen {
			return "", &SendError{Kind: FailureTransient, Code: "circuit_open", Message: "email provider circuit breaker is open"}
		}
		return "", ClassifyTransportError(err)
	}

	return providerID, nil
}

// decodeSendError turns a non-2xx provider response into a SendError using
// the provider's error body when it has one.
func decodeSendError(resp *http.Response) *SendError {
	kind := classifyStatus(resp.StatusCode)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded emailSendResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Code != "" {
		return &SendError{Kind: kind, Code: decoded.Code, Message: decoded.Message}
	}

	return &SendError{
		Kind:    kind,
		Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		Message: string(raw),
	}
}
