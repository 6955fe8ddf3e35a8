// Package middleware decorates the HTTP handlers of the player server with rate limiting, logging, stats, and tracing.
package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/HouzuoGuo/adcycle/lalog"
	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// PrometheusHandlerLocationLabel is the name of data label given to prometheus observers, the label data shall be
	// the route pattern at which the HTTP handler is installed.
	PrometheusHandlerLocationLabel = "url_location"
	// PrometheusStatusCodeLabel is the name of data label carrying the HTTP response status code.
	PrometheusStatusCodeLabel = "code"
)

/*
GetRealClientIP returns the IP of HTTP client that initiated the HTTP request.
Usually, the return value is identical to IP portion of RemoteAddr, but if there is a proxy server on the loopback
interface in between, the return value will be the client IP address read from header "X-Real-Ip" (preferred) or
"X-Forwarded-For".
*/
func GetRealClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	if strings.HasPrefix(ip, "127.") || ip == "::1" {
		if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
			ip = realIP
		} else if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			// "1.1.1.1[, 2.2.2.2, 3.3.3.3 ...]" where the first IP is the client IP
			first, _, _ := strings.Cut(forwardedFor, ",")
			ip = strings.TrimSpace(first)
		}
	}
	return ip
}

// RecordInternalStats records the request handling duration in the stats.
func RecordInternalStats(stats *misc.Stats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			beginTime := time.Now()
			defer stats.TriggerDuration(beginTime)
			next.ServeHTTP(w, r)
		})
	}
}

// WithAWSXray traces each request with AWS x-ray, but only if AWS integration is enabled program-wide.
func WithAWSXray(segmentName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if misc.EnableAWSIntegration {
			return xray.Handler(xray.NewFixedSegmentNamer(segmentName), next)
		}
		return next
	}
}

// RateLimit applies the rate limit to each client identified by its IP. A client that has made too many requests gets
// HTTP status too-many-requests without invoking the next handler.
func RateLimit(rateLimit *lalog.RateLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rateLimit.Add(GetRealClientIP(r), true) {
				http.Error(w, "", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogRequestStats logs the request parameters that identify the request origin, as well as its response status, size,
// and timing.
func LogRequestStats(logger *lalog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			beginTime := time.Now()
			recorder := NewResponseRecorder(w)
			next.ServeHTTP(recorder, r)
			duration := time.Since(beginTime)
			if ttfb := recorder.TimeToFirstByte(beginTime); ttfb > 0 {
				logger.Info("LogRequestStats", GetRealClientIP(r), nil, "request: %s \"%s\" %s, user-agent: %s, responded with code %d in %d bytes and %dus (time to 1st byte %dus)",
					r.Method, r.URL.EscapedPath(), r.Proto, r.Header.Get("User-Agent"), recorder.StatusCode(), recorder.TotalWritten(), duration.Microseconds(), ttfb.Microseconds())
			} else {
				logger.Info("LogRequestStats", GetRealClientIP(r), nil, "request: %s \"%s\" %s, user-agent: %s, responded with code %d in %d bytes and %dus",
					r.Method, r.URL.EscapedPath(), r.Proto, r.Header.Get("User-Agent"), recorder.StatusCode(), recorder.TotalWritten(), duration.Microseconds())
			}
		})
	}
}

// PrometheusHistograms are the collectors of HTTP request stats.
type PrometheusHistograms struct {
	Duration     *prometheus.HistogramVec
	ResponseSize *prometheus.HistogramVec
}

// NewPrometheusHistograms creates the HTTP request histograms and registers them with the global prometheus
// registry. It returns nil if prometheus integration is disabled.
func NewPrometheusHistograms(logger *lalog.Logger) *PrometheusHistograms {
	if !misc.EnablePrometheusIntegration {
		return nil
	}
	labels := []string{PrometheusHandlerLocationLabel, PrometheusStatusCodeLabel}
	histograms := &PrometheusHistograms{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcycle_httpd_request_duration_seconds",
			Help:    "The run-time duration of HTTP request handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, labels),
		ResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adcycle_httpd_response_size_bytes",
			Help:    "The size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, labels),
	}
	histograms.Duration = register(logger, histograms.Duration)
	histograms.ResponseSize = register(logger, histograms.ResponseSize)
	return histograms
}

func register(logger *lalog.Logger, collector *prometheus.HistogramVec) *prometheus.HistogramVec {
	err := prometheus.Register(collector)
	if err == nil {
		return collector
	}
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec); ok {
			return existing
		}
	}
	logger.Warning("NewPrometheusHistograms", "", err, "failed to register prometheus histogram")
	return collector
}

// RecordPrometheusStats records the request duration and response size in the histograms under the location label.
// Nil histograms leave the handler undecorated.
func RecordPrometheusStats(location string, histograms *PrometheusHistograms) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if histograms == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			beginTime := time.Now()
			recorder := NewResponseRecorder(w)
			next.ServeHTTP(recorder, r)
			labels := prometheus.Labels{
				PrometheusHandlerLocationLabel: location,
				PrometheusStatusCodeLabel:      http.StatusText(recorder.StatusCode()),
			}
			histograms.Duration.With(labels).Observe(time.Since(beginTime).Seconds())
			histograms.ResponseSize.With(labels).Observe(float64(recorder.TotalWritten()))
		})
	}
}

// RestrictMaxRequestSize restricts how much of the request body can be read by the next handler.
func RestrictMaxRequestSize(maxRequestBodyBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
