package api

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/dl-alexandre/gdmirror/internal/errors"
	"github.com/dl-alexandre/gdmirror/internal/logging"
	"github.com/dl-alexandre/gdmirror/internal/types"
	"github.com/dl-alexandre/gdmirror/internal/utils"
	"github.com/google/uuid"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// RetryPolicy bounds how often and how long a failed call is retried
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: utils.DefaultMaxRetries,
		BaseDelay:  time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(utils.MaxRetryDelayMs) * time.Millisecond,
	}
}

// Client wraps the Drive API with retry logic and request shaping
type Client struct {
	service        *drive.Service
	resourceKeyMgr *ResourceKeyManager
	policy         RetryPolicy
	logger         logging.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Drive API client
func NewClient(service *drive.Service, policy RetryPolicy, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = time.Duration(utils.MaxRetryDelayMs) * time.Millisecond
	}
	return &Client{
		service:        service,
		resourceKeyMgr: NewResourceKeyManager(),
		policy:         policy,
		logger:         logger,
		sleep:          sleepContext,
	}
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile string, driveID string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:           profile,
		DriveID:           driveID,
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       requestType,
		TraceID:           uuid.New().String(),
	}
}

// ExecuteWithRetry executes an API call with retry logic
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.Logger().WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("profile", reqCtx.Profile),
		logging.F("driveId", reqCtx.DriveID),
	)

	start := time.Now()
	policy := client.policy

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, client.classify(err, reqCtx)
		}
		if attempt > 0 {
			logger.Warn("Retrying API operation",
				logging.F("attempt", attempt),
				logging.F("maxRetries", policy.MaxRetries),
			)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Error("API operation failed (non-retryable)",
				logging.F("duration_ms", time.Since(start).Milliseconds()),
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, client.classify(lastErr, reqCtx)
		}

		if attempt < policy.MaxRetries {
			delay := calculateBackoff(policy, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			if err := client.sleep(ctx, delay); err != nil {
				return result, client.classify(err, reqCtx)
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("duration_ms", time.Since(start).Milliseconds()),
		logging.F("attempts", policy.MaxRetries+1),
		logging.F("error", lastErr.Error()),
	)

	return result, client.classify(lastErr, reqCtx)
}

// isRetryable checks if an error is retryable. Already classified errors
// carry their own verdict.
func isRetryable(err error) bool {
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		return appErr.CLIError.Retryable
	}
	return errors.IsRetryableAPIError(err)
}

// calculateBackoff calculates the retry delay with exponential backoff
func calculateBackoff(policy RetryPolicy, attempt int, err error) time.Duration {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) && apiErr.Header != nil {
		if retryAfter := apiErr.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay := time.Duration(seconds) * time.Second
				if delay > policy.MaxDelay {
					return policy.MaxDelay
				}
				return delay
			}
		}
	}

	// Exponential backoff: base * 2^attempt
	delay := policy.BaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	// Add jitter (±25% of delay)
	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay = delay + jitter
	}

	if delay < 0 {
		delay = policy.BaseDelay
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) classify(err error, reqCtx *types.RequestContext) error {
	return errors.ClassifyGoogleAPIError("drive", err, reqCtx, c.Logger())
}

// Service returns the underlying Drive service
func (c *Client) Service() *drive.Service {
	return c.service
}

// ResourceKeys returns the resource key manager
func (c *Client) ResourceKeys() *ResourceKeyManager {
	if c.resourceKeyMgr == nil {
		c.resourceKeyMgr = NewResourceKeyManager()
	}
	return c.resourceKeyMgr
}

// Policy returns the retry policy in effect
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// Logger returns the client's logger, never nil
func (c *Client) Logger() logging.Logger {
	if c.logger == nil {
		return logging.NewNoOpLogger()
	}
	return c.logger
}

// Sleep waits for d or until ctx is done, using the client's clock
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	if c.sleep == nil {
		return sleepContext(ctx, d)
	}
	return c.sleep(ctx, d)
}

// Backoff returns the delay before retry number attempt under the client's policy
func (c *Client) Backoff(attempt int, err error) time.Duration {
	return calculateBackoff(c.policy, attempt, err)
}
