package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"ppmt-amp-api/internal/service"
	"ppmt-amp-api/pkg/apierror"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// Defaults applied when an API Gateway event omits the method or path.
const (
	DefaultMethod = http.MethodGet
	DefaultPath   = "/prices"
)

// warmProbe picks out the keepalive markers of a raw invocation event.
type warmProbe struct {
	Source string      `json:"source"`
	Warmup interface{} `json:"warmup"`
}

// LambdaHandler adapts API Gateway proxy events to the gateway.
type LambdaHandler struct {
	gateway *service.Gateway
	logger  *zap.Logger
}

// NewLambdaHandler creates a new Lambda adapter.
func NewLambdaHandler(gateway *service.Gateway, logger *zap.Logger) *LambdaHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LambdaHandler{gateway: gateway, logger: logger.Named("lambda")}
}

// HandleRequest processes one invocation. Every outcome, including a
// malformed event, becomes a proxy response; the returned error is always nil.
func (h *LambdaHandler) HandleRequest(ctx context.Context, event json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var probe warmProbe
	if err := json.Unmarshal(event, &probe); err == nil {
		if probe.Source == "aws.events" || probe.Warmup == true {
			h.logger.Debug("warmup ping", zap.String("source", probe.Source))
			res := h.gateway.Warm()
			return h.respond(res.StatusCode, res.Body), nil
		}
	}

	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(event, &req); err != nil {
		h.logger.Warn("undecodable event", zap.Error(err))
		apiErr := apierror.BadRequest("INVALID_EVENT", "Invalid request")
		return h.respond(apiErr.StatusCode, apiErr), nil
	}

	method := req.HTTPMethod
	if method == "" {
		method = DefaultMethod
	}
	path := req.Path
	if path == "" {
		path = DefaultPath
	}

	params := req.QueryStringParameters
	if params == nil {
		params = map[string]string{}
	}

	res := h.gateway.Handle(ctx, service.Request{Method: method, Path: path, Params: params})
	return h.respond(res.StatusCode, res.Body), nil
}

func (h *LambdaHandler) respond(status int, body interface{}) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		data = apierror.InternalError("").ToJSON()
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                "application/json",
			"Access-Control-Allow-Origin": "*",
		},
		Body: string(data),
	}
}
