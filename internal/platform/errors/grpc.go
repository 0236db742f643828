package errors

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/louisbranch/brigade/internal/platform/errors/i18n"
)

// DefaultLocale is used when a caller sends no locale.
const DefaultLocale = i18n.BaseLocale

// HandleError converts an error to a gRPC status carrying the message for
// locale. Existing statuses pass through; any other error becomes a generic
// Internal status.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		if _, ok := status.FromError(err); ok {
			return err
		}
		return status.Error(codes.Internal, "an unexpected error occurred")
	}
	if locale == "" {
		locale = DefaultLocale
	}
	catalog := i18n.GetCatalog(locale)
	userMsg := catalog.Format(string(appErr.Code), appErr.Metadata)
	return appErr.ToGRPCStatus(catalog.Locale(), userMsg)
}
