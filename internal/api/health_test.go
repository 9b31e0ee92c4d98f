package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakeGauges struct {
	clients int
	groups  int
}

func (g fakeGauges) ClientCount() int { return g.clients }
func (g fakeGauges) GroupCount() int  { return g.groups }

func TestHealth(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	handler := NewHealthHandler(fakeGauges{clients: 3, groups: 2})
	app.Get("/healthz", handler.Health)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var parsed struct {
		Data struct {
			Status  string `json:"status"`
			Clients int    `json:"clients"`
			Groups  int    `json:"groups"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("unmarshal body %s: %v", body, err)
	}
	if parsed.Data.Status != "ok" {
		t.Errorf("status = %q, want ok", parsed.Data.Status)
	}
	if parsed.Data.Clients != 3 {
		t.Errorf("clients = %d, want 3", parsed.Data.Clients)
	}
	if parsed.Data.Groups != 2 {
		t.Errorf("groups = %d, want 2", parsed.Data.Groups)
	}
}

func TestUpgradeRequiresWebSocket(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	handler := NewGatewayHandler(nil)
	app.Get("/ws", handler.Upgrade)

	// A plain GET without upgrade headers is refused before the hub is
	// ever touched.
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUpgradeRequired)
	}
}
