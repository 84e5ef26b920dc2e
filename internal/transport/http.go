package transport

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single network call
	DefaultTimeout = 10 * time.Second

	userAgent = "coverled/1.0"
)

// NewHTTPClient returns a retrying HTTP client that retries a failed call once.
// A hung call is still bounded by timeout.
func NewHTTPClient(logger *zap.Logger, timeout time.Duration) *retryablehttp.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 250 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = &zapLeveledLogger{sugar: logger.Named("http").Sugar()}
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		req.Header.Set("User-Agent", userAgent)
	}
	return client
}

// zapLeveledLogger adapts zap to retryablehttp.LeveledLogger
type zapLeveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
