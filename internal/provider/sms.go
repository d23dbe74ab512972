package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"renonotify/config"
	"renonotify/internal/model"
	"renonotify/internal/template"
	"renonotify/pkg/circuitbreaker"
	"renonotify/pkg/metrics"
)

// SMSProvider delivers plain-text messages through an HTTP SMS gateway.
type SMSProvider struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewSMSProvider(cfg config.ProviderConfig, logger *zap.Logger) *SMSProvider {
	return &SMSProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		cb:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger: logger,
	}
}

func (p *SMSProvider) Name() string { return "sms-http" }

type smsSendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type smsSendResponse struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (p *SMSProvider) Send(ctx context.Context, recipient string, content *template.RenderedContent) (string, error) {
	to := recipient
	if p.cfg.DebugRecipient != "" {
		to = p.cfg.DebugRecipient
	}

	var providerID string
	err := p.cb.Execute(func() error {
		start := time.Now()

		body, err := json.Marshal(smsSendRequest{
			From: p.cfg.Sender,
			To:   to,
			Text: content.Text,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/sms", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

		resp, err := p.httpClient.Do(req)
		latency := time.Since(start)
		if err != nil {
			metrics.RecordProviderCallLatency(string(model.ChannelSMS), "error", latency)
			return err
		}
		defer resp.Body.Close()

		metrics.RecordProviderCallLatency(string(model.ChannelSMS), fmt.Sprintf("%d", resp.StatusCode), latency)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
			return decodeSendError(resp)
		}

		var decoded smsSendResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return &SendError{Kind: FailureTransient, Code: "bad_response", Message: err.Error()}
		}
		providerID = decoded.MessageID
		return nil
	})

	if err != nil {
		if err == circuitbreaker.ErrCircuitBreakerOpen {
			return "", &SendError{Kind: FailureTransient, Code: "circuit_open", Message: "sms provider circuit breaker is open"}
		}
		return "", ClassifyTransportError(err)
	}

	return providerID, nil
}
