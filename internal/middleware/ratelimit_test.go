package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIPRateLimiter_BlocksAfterBurst(t *testing.T) {
	req := require.New(t)

	// Given one request per minute with a burst of two
	l := NewIPRateLimiter(1, 2, zap.NewNop().Sugar())
	app := fiber.New()
	app.Use(l.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	// When
	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		req.NoError(err)
		codes = append(codes, resp.StatusCode)
	}

	// Then
	req.Equal([]int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestIPRateLimiter_DisabledWithZeroRate(t *testing.T) {
	l := NewIPRateLimiter(0, 1, zap.NewNop().Sugar())
	app := fiber.New()
	app.Use(l.Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 5; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}

func TestIPRateLimiter_SweepForgetsIdleVisitors(t *testing.T) {
	req := require.New(t)

	l := NewIPRateLimiter(60, 1, zap.NewNop().Sugar())
	l.getLimiter("10.0.0.1")
	l.getLimiter("10.0.0.2")

	l.sweep(time.Now().Add(time.Second))

	count := 0
	l.visitors.Range(func(_, _ interface{}) bool { count++; return true })
	req.Zero(count)
}
