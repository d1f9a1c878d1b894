package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"feedbackgate/internal/types"
)

// GatewayClientConfig holds the configuration for creating a GatewayClient.
type GatewayClientConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// GatewayClient implements MessagingGateway against the messaging gateway's
// REST API. Each instance authenticates with its own token, sent in the
// apikey header.
type GatewayClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewGatewayClient creates a new GatewayClient. The httpClient timeout bounds
// each disconnect call; failures are not retried within a run.
func NewGatewayClient(httpClient *http.Client, cfg GatewayClientConfig) *GatewayClient {
	base := NewBaseClient(httpClient, "messaging-gateway")
	return NewGatewayClientWithBase(base, cfg)
}

// NewGatewayClientWithBase creates a GatewayClient with a pre-configured
// BaseClient.
func NewGatewayClientWithBase(base *BaseClient, cfg GatewayClientConfig) *GatewayClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// Disconnect logs the instance's session out of the gateway.
//
// A 404 means the gateway no longer knows the instance, which is the desired
// end state, so it is treated as success.
func (g *GatewayClient) Disconnect(ctx context.Context, instanceName string, token types.SecretString) error {
	if instanceName == "" {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"Disconnect: empty instance name",
			nil,
		)
	}

	reqURL := g.baseURL + "/instance/logout/" + url.PathEscape(instanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create gateway logout request",
			err,
		)
	}
	req.Header.Set("apikey", token.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := g.base.Do(req)
	if err != nil {
		return g.wrapGatewayError("Disconnect", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		g.logger.InfoContext(ctx, "gateway instance already gone",
			"instance_name", instanceName,
		)
		return nil
	default:
		return g.handleErrorResponse(resp, "Disconnect")
	}
}

// gatewayErrorResponse is the gateway's JSON error envelope.
type gatewayErrorResponse struct {
	Status   int    `json:"status"`
	Error    string `json:"error"`
	Response struct {
		Message any `json:"message"`
	} `json:"response"`
}

func (g *GatewayClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := strings.TrimSpace(string(body))
	var gwErr gatewayErrorResponse
	if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.Error != "" {
		msg = gwErr.Error
		if gwErr.Response.Message != nil {
			msg = fmt.Sprintf("%s: %v", gwErr.Error, gwErr.Response.Message)
		}
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamGateway,
		fmt.Sprintf("%s: gateway error (%d): %s", operation, resp.StatusCode, msg),
		nil,
		map[string]any{"status": resp.StatusCode},
	)
}

func (g *GatewayClient) wrapGatewayError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamGateway,
		fmt.Sprintf("%s: gateway request failed: %v", operation, err),
		err,
	)
}

// Compile-time assertion that GatewayClient satisfies MessagingGateway.
var _ MessagingGateway = (*GatewayClient)(nil)
