package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"feedbackgate/internal/types"
)

const (
	sendGridAPIBase  = "https://api.sendgrid.com"
	sendGridMailPath = "/v3/mail/send"

	// Error bodies beyond this are truncated before mapping.
	sendGridMaxErrorBody = 4 << 10
)

// SendGridClientConfig configures a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // empty means sendGridAPIBase
	Logger  *slog.Logger
}

// SendGridClient delivers lifecycle emails through the SendGrid v3 Mail Send
// API on top of BaseClient.
type SendGridClient struct {
	base     *BaseClient
	apiKey   string
	endpoint string
	logger   *slog.Logger
}

// NewSendGridClient creates a SendGridClient. Sends are best effort and
// bounded by the caller's timeout.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	base := NewBaseClient(httpClient, "sendgrid")
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient over an existing
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	root := cfg.BaseURL
	if root == "" {
		root = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:     base,
		apiKey:   cfg.APIKey,
		endpoint: strings.TrimSuffix(root, "/") + sendGridMailPath,
		logger:   logger,
	}
}

// Send posts one message and returns the X-Message-Id header.
//
// A TemplateID selects a dynamic template fed with TemplateData; without one
// the plain-text Subject and BodyText are sent. Failures map to:
//   - 403 -> email_blocked (suppressed recipient)
//   - 429 -> upstream_rate_limited
//   - 5xx -> upstream_unavailable
//   - other -> upstream_email_provider_unavailable
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(newMailSend(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "encoding sendgrid request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "building sendgrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "sendgrid request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		id := resp.Header.Get("X-Message-Id")
		s.logger.DebugContext(ctx, "sendgrid accepted message", "kind", input.Kind, "provider_msg_id", id)
		return id, nil
	}
	return "", sendGridFailure(resp)
}

// mailSend is the subset of the v3 mail/send body the worker uses.
type mailSend struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	TemplateID       string                `json:"template_id,omitempty"`
	Subject          string                `json:"subject,omitempty"`
	Content          []mailContent         `json:"content,omitempty"`
	Categories       []string              `json:"categories,omitempty"`
	CustomArgs       map[string]string     `json:"custom_args,omitempty"`
}

type mailPersonalization struct {
	To           []mailAddress  `json:"to"`
	TemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func newMailSend(in types.SendInput) mailSend {
	p := mailPersonalization{To: []mailAddress{{Email: in.To}}}
	m := mailSend{From: mailAddress{Email: in.From.Address, Name: in.From.Name}}

	if in.TemplateID != "" {
		m.TemplateID = in.TemplateID
		p.TemplateData = in.TemplateData
	} else {
		m.Subject = in.Subject
		m.Content = []mailContent{{Type: "text/plain", Value: in.BodyText}}
	}
	m.Personalizations = []mailPersonalization{p}

	// Kind doubles as a SendGrid category so deliverability stats split by
	// email kind.
	if in.Kind != "" {
		m.Categories = []string{in.Kind}
	}
	if in.ReferenceID != "" || in.Kind != "" {
		m.CustomArgs = map[string]string{}
		if in.ReferenceID != "" {
			m.CustomArgs["reference_id"] = in.ReferenceID
		}
		if in.Kind != "" {
			m.CustomArgs["kind"] = in.Kind
		}
	}
	return m
}

// sendGridFailure maps a non-202 response to an AppError. SendGrid error
// bodies look like {"errors":[{"message":..., "field":...}]}.
func sendGridFailure(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, sendGridMaxErrorBody))

	reason := strings.TrimSpace(string(raw))
	var parsed struct {
		Errors []struct {
			Message string `json:"message"`
			Field   string `json:"field"`
		} `json:"errors"`
	}
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		reason = parsed.Errors[0].Message
		if f := parsed.Errors[0].Field; f != "" {
			reason = f + ": " + reason
		}
	}

	code := types.ErrCodeUpstreamEmailProvider
	switch {
	case resp.StatusCode == http.StatusForbidden:
		code = types.ErrCodeEmailBlocked
	case resp.StatusCode == http.StatusTooManyRequests:
		code = types.ErrCodeUpstreamRateLimited
	case resp.StatusCode >= 500:
		code = types.ErrCodeUpstreamUnavailable
	}
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("sendgrid returned %d: %s", resp.StatusCode, reason),
		nil,
		map[string]any{"status": resp.StatusCode},
	)
}

var _ EmailProvider = (*SendGridClient)(nil)
