package grpc

import (
	"context"
	"strings"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/platform/id"
	"github.com/louisbranch/brigade/internal/platform/requestctx"
)

// Request metadata keys.
const (
	RequestIDHeader = "x-brigade-request-id"
	LocaleHeader    = "x-brigade-locale"
	ActorTypeHeader = "x-brigade-actor-type"
	ActorIDHeader   = "x-brigade-actor-id"
)

// UnaryServerInterceptor attaches the caller's request id and actor to the
// handler context and converts handler errors into localized statuses. A
// request id is generated when the caller sends none and is echoed back in
// the response header.
func UnaryServerInterceptor(idGenerator func() (string, error)) gogrpc.UnaryServerInterceptor {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		requestID := FirstMetadataValue(md, RequestIDHeader)
		if requestID == "" {
			generated, err := idGenerator()
			if err != nil {
				return nil, status.Errorf(codes.Internal, "generate request id: %v", err)
			}
			requestID = generated
		}
		if gogrpc.ServerTransportStreamFromContext(ctx) != nil {
			if err := gogrpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID)); err != nil {
				return nil, status.Errorf(codes.Internal, "set response metadata: %v", err)
			}
		}

		ctx = requestctx.WithRequestID(ctx, requestID)
		actor := requestctx.Actor{
			Type: FirstMetadataValue(md, ActorTypeHeader),
			ID:   FirstMetadataValue(md, ActorIDHeader),
		}
		if !actor.IsZero() {
			ctx = requestctx.WithActor(ctx, actor)
		}

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, apperrors.HandleError(err, FirstMetadataValue(md, LocaleHeader))
		}
		return resp, nil
	}
}

// FirstMetadataValue returns the first printable ASCII value for key.
func FirstMetadataValue(md metadata.MD, key string) string {
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if isPrintableASCII(value) {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

func isPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}
