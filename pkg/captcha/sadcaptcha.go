package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/sessionpilot/pkg/types"
)

// DefaultSadCaptchaURL is the public SadCaptcha API.
const DefaultSadCaptchaURL = "https://www.sadcaptcha.com"

// SadCaptcha solves shape challenges through the SadCaptcha HTTP API.
type SadCaptcha struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// SadCaptchaOption configures a SadCaptcha solver.
type SadCaptchaOption func(*SadCaptcha)

// WithSadCaptchaURL overrides the API base URL.
func WithSadCaptchaURL(baseURL string) SadCaptchaOption {
	return func(s *SadCaptcha) {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) SadCaptchaOption {
	return func(s *SadCaptcha) {
		s.httpClient = c
	}
}

// NewSadCaptcha creates a solver authenticated by a license key.
func NewSadCaptcha(apiKey string, opts ...SadCaptchaOption) (*SadCaptcha, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("SadCaptcha API key is required")
	}
	s := &SadCaptcha{
		apiKey:     apiKey,
		baseURL:    DefaultSadCaptchaURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SadCaptcha) Name() string { return "sadcaptcha" }

type shapesRequest struct {
	ImageB64 string `json:"imageB64"`
}

type shapesResponse struct {
	PointOneProportionX float64 `json:"pointOneProportionX"`
	PointOneProportionY float64 `json:"pointOneProportionY"`
	PointTwoProportionX float64 `json:"pointTwoProportionX"`
	PointTwoProportionY float64 `json:"pointTwoProportionY"`
}

// Solve posts the image to the shapes endpoint and returns the two points
// to click.
func (s *SadCaptcha) Solve(ctx context.Context, kind types.CaptchaType, image []byte) (*Solution, error) {
	if kind != types.CaptchaShapes && kind != types.CaptchaUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}

	body, err := json.Marshal(shapesRequest{ImageB64: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := s.baseURL + "/api/v1/shapes?licenseKey=" + url.QueryEscape(s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSolverUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSolverUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out shapesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSolverUnavailable, err)
	}
	sol := &Solution{Points: []Point{
		{X: out.PointOneProportionX, Y: out.PointOneProportionY},
		{X: out.PointTwoProportionX, Y: out.PointTwoProportionY},
	}}
	if err := validate(sol); err != nil {
		return nil, err
	}
	return sol, nil
}
