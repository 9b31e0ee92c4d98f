package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/satlink/sathub/internal/httputil"
)

// TestUnknownRouteReturns404 verifies that requests to undefined paths receive
// a 404 JSON response. Fiber v3 treats app.Use() middleware as route matches,
// so without the terminal catch-all the router would return 200 with an empty
// body for unmatched paths.
func TestUnknownRouteReturns404(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			}
			return httputil.Fail(c, status, message)
		},
	})

	app.Use(func(c fiber.Ctx) error {
		return c.Next()
	})
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	// Catch-all: mirrors the handler at the end of run.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown path", "/no-such-route", fiber.StatusNotFound},
		{"favicon", "/favicon.ico", fiber.StatusNotFound},
		{"known path", "/healthz", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			if tt.want == fiber.StatusNotFound {
				body, err := io.ReadAll(resp.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				var parsed httputil.ErrorResponse
				if err := json.Unmarshal(body, &parsed); err != nil {
					t.Fatalf("unmarshal body %s: %v", body, err)
				}
				if parsed.Error.Message == "" {
					t.Error("error message is empty")
				}
			}
		})
	}
}

func TestRunWithBackoffStopsOnNil(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		runWithBackoff(context.Background(), "test", func(context.Context) error {
			calls.Add(1)
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runWithBackoff did not return after nil")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRunWithBackoffStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		runWithBackoff(ctx, "test", func(ctx context.Context) error {
			return ctx.Err()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runWithBackoff did not return after cancel")
	}
}
