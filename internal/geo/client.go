// Package geo resolves a visitor's country from an IP address or from
// device coordinates using public lookup services.
package geo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// APIError is returned when a lookup service answers with an error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geo lookup error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	// IPURL is the IP lookup endpoint. "{ip}" is replaced with the address
	// being looked up; for a self lookup the segment is dropped.
	IPURL string
	// ReverseURL is the reverse geocoding endpoint taking latitude and
	// longitude query parameters.
	ReverseURL string
	Timeout    time.Duration
	// RequestsPerSecond bounds outbound lookups. Zero means 2/s.
	RequestsPerSecond float64
	Logger            logr.Logger
}

// Client talks to the IP lookup and reverse geocoding services.
type Client struct {
	http       *resty.Client
	ipURL      string
	reverseURL string
	limiter    *rate.Limiter
	log        logr.Logger
}

// New creates a lookup client. Server errors and 429 responses are retried
// with exponential back-off.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	log := opts.Logger.WithName("geo")

	h := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetLogger(restyLogger{log}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return false
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{
		http:       h,
		ipURL:      opts.IPURL,
		reverseURL: opts.ReverseURL,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		log:        log,
	}
}

// LookupCountry returns the ISO 3166-1 alpha-2 country code for ip. An empty
// ip looks up the caller's own public address.
func (c *Client) LookupCountry(ctx context.Context, ip string) (string, error) {
	if c.ipURL == "" {
		return "", fmt.Errorf("ip lookup is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := c.ipURL
	if ip == "" {
		url = strings.Replace(url, "{ip}/", "", 1)
	}
	c.log.V(1).Info("ip lookup", "ip", ip)

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("ip lookup: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	// Services label JSON inconsistently, so the body is read as-is.
	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("ip lookup: response is not JSON")
	}
	fields := gjson.GetManyBytes(body, "error", "reason", "country_code", "country")
	if fields[0].Bool() {
		return "", &APIError{StatusCode: resp.StatusCode(), Message: fields[1].String()}
	}
	code := fields[2].String()
	if code == "" {
		code = fields[3].String()
	}
	if code == "" {
		return "", fmt.Errorf("ip lookup: no country in response")
	}
	return strings.ToUpper(code), nil
}

// CountryAt returns the country code at the given coordinates.
func (c *Client) CountryAt(ctx context.Context, lat, lon float64) (string, error) {
	if c.reverseURL == "" {
		return "", fmt.Errorf("reverse geocoding is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	c.log.V(1).Info("reverse geocode", "lat", lat, "lon", lon)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":         strconv.FormatFloat(lat, 'f', 4, 64),
			"longitude":        strconv.FormatFloat(lon, 'f', 4, 64),
			"localityLanguage": "en",
		}).
		Get(c.reverseURL)
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	code := gjson.GetBytes(resp.Body(), "countryCode").String()
	if code == "" {
		return "", fmt.Errorf("reverse geocode: no country at %.4f,%.4f", lat, lon)
	}
	return strings.ToUpper(code), nil
}

// restyLogger routes resty's retry and error messages through logr.
type restyLogger struct {
	log logr.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(nil, fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.V(1).Info(fmt.Sprintf(format, v...))
}
