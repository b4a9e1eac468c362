package errors

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"google.golang.org/api/googleapi"
)

func testReqCtx() *types.RequestContext {
	return &types.RequestContext{TraceID: "trace", RequestType: types.RequestTypeMutation}
}

func TestIsTransientConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection aborted", fmt.Errorf("write: %w", syscall.ECONNABORTED), true},
		{"connection reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"plain error", fmt.Errorf("boom"), false},
		{"api error", &googleapi.Error{Code: 500}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientConnectionError(tt.err); got != tt.want {
				t.Errorf("IsTransientConnectionError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyGoogleAPIError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{"not found", &googleapi.Error{Code: 404, Message: "File not found"}, utils.ErrCodeFileNotFound, false},
		{"unauthorized", &googleapi.Error{Code: 401}, utils.ErrCodeAuthExpired, false},
		{"quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "storageQuotaExceeded"}}}, utils.ErrCodeQuotaExceeded, false},
		{"rate limited 403", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, utils.ErrCodeRateLimited, true},
		{"too many requests", &googleapi.Error{Code: 429}, utils.ErrCodeRateLimited, true},
		{"server error", &googleapi.Error{Code: 503}, utils.ErrCodeNetworkError, true},
		{"transient network", fmt.Errorf("upload: %w", syscall.ECONNABORTED), utils.ErrCodeNetworkError, true},
		{"permanent network", fmt.Errorf("tls: bad certificate"), utils.ErrCodeNetworkError, false},
		{"cancelled", context.Canceled, utils.ErrCodeCancelled, false},
		{"deadline", context.DeadlineExceeded, utils.ErrCodeTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyGoogleAPIError("drive", tt.err, testReqCtx(), logging.NewNoOpLogger())
			if got := utils.ErrorCode(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s", got, tt.wantCode)
			}
			if got := utils.IsRetryable(err); got != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestClassifyGoogleAPIError_KeepsAppErrors(t *testing.T) {
	original := utils.NewAppError(utils.NewCLIError(utils.ErrCodeFolderNotFound, "missing").Build())
	err := ClassifyGoogleAPIError("drive", original, testReqCtx(), logging.NewNoOpLogger())
	if err != original {
		t.Errorf("expected the original AppError back, got %v", err)
	}
}

func TestIsRetryableAPIError(t *testing.T) {
	if !IsRetryableAPIError(&googleapi.Error{Code: 502}) {
		t.Error("502 should be retryable")
	}
	if IsRetryableAPIError(&googleapi.Error{Code: 404}) {
		t.Error("404 should not be retryable")
	}
	if !IsRetryableAPIError(fmt.Errorf("read: %w", syscall.ECONNRESET)) {
		t.Error("connection reset should be retryable")
	}
}
