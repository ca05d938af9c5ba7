package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(rl *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Post("/ingest", rl.IngestMiddleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	app.Get("/chat", rl.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path, tenant string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestMiddleware_AllowsWithinBudget(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 5, WindowDuration: time.Minute})
	defer rl.Stop()
	app := newApp(rl)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"))
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"))
}

func TestMiddleware_TenantsHaveSeparateBuckets(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2, WindowDuration: time.Minute})
	defer rl.Stop()
	app := newApp(rl)

	doRequest(t, app, http.MethodGet, "/chat", "tenant-a")
	doRequest(t, app, http.MethodGet, "/chat", "tenant-a")
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"))

	assert.Equal(t, http.StatusOK, doRequest(t, app, http.MethodGet, "/chat", "tenant-b"),
		"one tenant exhausting its budget must not block another")
}

func TestIngestMiddleware_ChargesHigherCost(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 25, WindowDuration: time.Minute, IngestCost: 10})
	defer rl.Stop()
	app := newApp(rl)

	assert.Equal(t, http.StatusAccepted, doRequest(t, app, http.MethodPost, "/ingest", "tenant-a"))
	assert.Equal(t, http.StatusAccepted, doRequest(t, app, http.MethodPost, "/ingest", "tenant-a"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, app, http.MethodPost, "/ingest", "tenant-a"),
		"third ingest exceeds 25 tokens at cost 10")

	assert.Equal(t, http.StatusOK, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"),
		"cheap requests still fit in the remainder")
}

func TestMiddleware_RefillsOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2, WindowDuration: 100 * time.Millisecond})
	defer rl.Stop()
	app := newApp(rl)

	doRequest(t, app, http.MethodGet, "/chat", "tenant-a")
	doRequest(t, app, http.MethodGet, "/chat", "tenant-a")
	require.Equal(t, http.StatusTooManyRequests, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doRequest(t, app, http.MethodGet, "/chat", "tenant-a"))
}
