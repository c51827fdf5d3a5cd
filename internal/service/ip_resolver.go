package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultClientIP = "127.0.0.1"

type PublicIPCache interface {
	GetPublicIP(ctx context.Context) (string, error)
	SetPublicIP(ctx context.Context, ip string) error
}

// ClientIP derives the caller address from the X-Forwarded-For value and the
// transport peer address, in that order.
func ClientIP(forwardedFor, peerAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	peerAddr = strings.TrimSpace(peerAddr)
	if peerAddr == "" {
		return defaultClientIP
	}
	if host, _, err := net.SplitHostPort(peerAddr); err == nil {
		return host
	}
	return peerAddr
}

func IsLoopback(ip string) bool {
	if strings.EqualFold(ip, "localhost") {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// PublicIPResolver replaces loopback addresses with the machine's public
// address, which only happens when running the site locally.
type PublicIPResolver struct {
	logger  *zap.Logger
	client  *http.Client
	url     string
	timeout time.Duration
	cache   PublicIPCache
}

func NewPublicIPResolver(url string, timeout time.Duration, cache PublicIPCache, logger *zap.Logger) *PublicIPResolver {
	return &PublicIPResolver{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		url:     url,
		timeout: timeout,
		cache:   cache,
	}
}

// Resolve never fails: any problem reaching the public-IP service leaves ip
// unchanged.
func (r *PublicIPResolver) Resolve(ctx context.Context, ip string) string {
	if !IsLoopback(ip) {
		return ip
	}

	if r.cache != nil {
		if cached, err := r.cache.GetPublicIP(ctx); err == nil && cached != "" {
			return cached
		}
	}

	public, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("could not resolve public IP",
			zap.String("ip", ip),
			zap.Error(err))
		return ip
	}

	r.logger.Info("public IP detected", zap.String("ip", public))

	if r.cache != nil {
		if err := r.cache.SetPublicIP(ctx, public); err != nil {
			r.logger.Warn("failed to cache public IP", zap.Error(err))
		}
	}

	return public
}

func (r *PublicIPResolver) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching public IP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding public IP response: %w", err)
	}

	ip := strings.TrimSpace(body.IP)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("invalid public IP: %q", body.IP)
	}
	return ip, nil
}
