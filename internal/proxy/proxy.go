package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

var errUpstream = errors.New("upstream error")

// Upstream forwards metered tool calls to one backend behind a circuit breaker.
type Upstream struct {
	target      *url.URL
	stripPrefix string
	proxy       *httputil.ReverseProxy
	breaker     *circuitbreaker.CircuitBreaker
	logger      hclog.Logger
}

type Config struct {
	Target         string
	StripPrefix    string // Removed from the request path before forwarding
	Timeout        time.Duration
	CircuitBreaker circuitbreaker.Config
	Logger         hclog.Logger
}

func New(cfg Config) (*Upstream, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", cfg.Target, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: scheme and host are required", cfg.Target)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "tools"
	}

	u := &Upstream{
		target:      target,
		stripPrefix: cfg.StripPrefix,
		breaker:     circuitbreaker.New(cfg.CircuitBreaker),
		logger:      cfg.Logger.Named("proxy"),
	}

	u.proxy = &httputil.ReverseProxy{
		Rewrite: u.rewrite,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   32,
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			u.logger.Warn("upstream request failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"Upstream unavailable"}`))
		},
	}

	return u, nil
}

func (u *Upstream) rewrite(r *httputil.ProxyRequest) {
	if u.stripPrefix != "" {
		path := strings.TrimPrefix(r.In.URL.Path, u.stripPrefix)
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		r.Out.URL.Path = path
		r.Out.URL.RawPath = ""
	}
	r.SetURL(u.target)
	r.SetXForwarded()
}

// Forwards the request. Upstream 5xx answers count as breaker failures
func (u *Upstream) Handle(c *gin.Context) {
	err := u.breaker.Execute(c.Request.Context(), func(context.Context) error {
		u.proxy.ServeHTTP(c.Writer, c.Request)

		if c.Writer.Status() >= http.StatusInternalServerError {
			return errUpstream
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		u.logger.Debug("upstream circuit open", "target", u.target.String())
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
	}
}

func (u *Upstream) Breaker() *circuitbreaker.CircuitBreaker {
	return u.breaker
}

func (u *Upstream) Target() string {
	return u.target.String()
}
