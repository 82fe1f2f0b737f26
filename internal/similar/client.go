// Package similar calls the external image similarity search service.
package similar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"handmade/internal/ingest"

	"github.com/gofiber/fiber/v2"
)

// ErrNoFile is returned when FindSimilar is called without image bytes.
var ErrNoFile = errors.New("please choose an image first")

// Match is one product the search service considers similar.
type Match struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Images      []string `json:"images,omitempty"`
	ImageURL    string   `json:"imageUrl,omitempty"`
	Similarity  float64  `json:"similarity"`
}

type response struct {
	Results []Match `json:"results"`
	Error   string  `json:"error,omitempty"`
}

// Client posts images to <baseURL>/find-similar-products.
type Client struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a Client. A zero timeout means 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// FindSimilar uploads f as the multipart field "file" and returns the matches.
func (c *Client) FindSimilar(ctx context.Context, f ingest.File) ([]Match, error) {
	if len(f.Data) == 0 {
		return nil, ErrNoFile
	}
	if !strings.HasPrefix(strings.ToLower(f.MIMEType()), "image/") {
		return nil, fmt.Errorf("%w: %s", ingest.ErrInvalidType, f.Name)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agent := fiber.Post(c.baseURL + "/find-similar-products")
	agent.FileData(&fiber.FormFile{Fieldname: "file", Name: f.Name, Content: f.Data})
	agent.MultipartForm(nil)
	agent.Timeout(timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("similarity search request failed: %w", errors.Join(errs...))
	}

	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		if !successful(code) {
			return nil, fmt.Errorf("similarity search failed with status %d", code)
		}
		return nil, fmt.Errorf("failed to decode similarity response: %w", err)
	}
	if !successful(code) || res.Error != "" {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", code)
		}
		return nil, fmt.Errorf("similarity search failed: %s", msg)
	}

	if res.Results == nil {
		res.Results = []Match{}
	}
	return res.Results, nil
}

func successful(code int) bool {
	return code >= fiber.StatusOK && code < fiber.StatusMultipleChoices
}
