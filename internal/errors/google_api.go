package errors

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"syscall"

	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"google.golang.org/api/googleapi"
)

// IsTransientConnectionError reports whether err is a network interruption
// that is worth reconnecting for, as opposed to a service-level rejection.
func IsTransientConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if stderrors.Is(err, syscall.ECONNABORTED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}

// IsRetryableAPIError reports whether a raw Drive error should be retried
func IsRetryableAPIError(err error) bool {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		case 403:
			for _, e := range apiErr.Errors {
				switch e.Reason {
				case "userRateLimitExceeded", "rateLimitExceeded":
					return true
				}
			}
		}
		return false
	}
	return IsTransientConnectionError(err)
}

func ClassifyGoogleAPIError(service string, err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	var existing *utils.AppError
	if stderrors.As(err, &existing) {
		return existing
	}

	if stderrors.Is(err, context.Canceled) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeCancelled, "Operation cancelled").
			WithContext("traceId", reqCtx.TraceID).
			Build())
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeTimeout, "Operation timed out").
			WithContext("traceId", reqCtx.TraceID).
			Build())
	}

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		transient := IsTransientConnectionError(err)
		logger.Error("Non-API error",
			logging.F("error", err.Error()),
			logging.F("transient", transient),
			logging.F("traceId", reqCtx.TraceID),
		)
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeNetworkError, err.Error()).
			WithRetryable(transient).
			WithContext("traceId", reqCtx.TraceID).
			WithContext("service", service).
			Build())
	}

	var code string
	var retryable bool

	switch apiErr.Code {
	case 400:
		code = utils.ErrCodeInvalidArgument
		for _, e := range apiErr.Errors {
			if e.Reason == "teamDriveFileLimitExceeded" {
				code = utils.ErrCodeQuotaExceeded
			}
		}
	case 401:
		code = utils.ErrCodeAuthExpired
	case 403:
		code = utils.ErrCodePermissionDenied
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "storageQuotaExceeded":
				code = utils.ErrCodeQuotaExceeded
			case "userRateLimitExceeded", "rateLimitExceeded":
				code = utils.ErrCodeRateLimited
				retryable = true
			case "dailyLimitExceeded":
				code = utils.ErrCodeRateLimited
			case "domainPolicy":
				code = utils.ErrCodePolicyViolation
			}
		}
	case 404:
		code = utils.ErrCodeFileNotFound
	case 409:
		code = utils.ErrCodeInvalidArgument
	case 429:
		code = utils.ErrCodeRateLimited
		retryable = true
	case 500, 502, 503, 504:
		code = utils.ErrCodeNetworkError
		retryable = true
	default:
		code = utils.ErrCodeUnknown
		retryable = apiErr.Code >= 500
	}

	logger.Error("API error classified",
		logging.F("httpStatus", apiErr.Code),
		logging.F("errorCode", code),
		logging.F("retryable", retryable),
		logging.F("message", apiErr.Message),
		logging.F("traceId", reqCtx.TraceID),
		logging.F("service", service),
	)

	builder := utils.NewCLIError(code, apiErr.Message).
		WithHTTPStatus(apiErr.Code).
		WithRetryable(retryable).
		WithContext("traceId", reqCtx.TraceID).
		WithContext("requestType", string(reqCtx.RequestType)).
		WithContext("service", service)

	if len(apiErr.Errors) > 0 {
		builder.WithDriveReason(apiErr.Errors[0].Reason)
		switch apiErr.Errors[0].Reason {
		case "storageQuotaExceeded":
			builder.WithContext("suggestedAction", "free up space in Google Drive or upgrade storage")
		case "userRateLimitExceeded", "rateLimitExceeded":
			builder.WithContext("suggestedAction", "wait before retrying")
		case "dailyLimitExceeded":
			builder.WithContext("suggestedAction", "quota will reset in 24 hours")
		case "insufficientFilePermissions":
			builder.WithContext("capability", "write_access_required")
		}
	}

	switch code {
	case utils.ErrCodeAuthExpired:
		builder.WithContext("suggestedAction", "run 'gdmirror auth login' to re-authenticate")
	case utils.ErrCodeFileNotFound:
		if reqCtx.DriveID != "" {
			builder.WithContext("searchDomain", "sharedDrive").
				WithContext("driveId", reqCtx.DriveID)
		}
		if len(reqCtx.InvolvedFileIDs) > 0 {
			builder.WithContext("fileIds", reqCtx.InvolvedFileIDs)
		}
	}

	return utils.NewAppError(builder.Build())
}
