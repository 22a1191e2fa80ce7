package utils

import "github.com/gofiber/fiber/v2"

// Every JSON response outside the websocket carries the request id, so a
// client report can be matched to the server log line.
type (
	SuccessBody struct {
		Status    string      `json:"status"`
		Data      interface{} `json:"data"`
		RequestID string      `json:"request_id,omitempty"`
	}
	ErrorBody struct {
		Status    string `json:"status"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	}
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(SuccessBody{Status: "ok", Data: payload, RequestID: requestID(c)})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorBody{Status: "error", Message: msg, RequestID: requestID(c)})
}

func requestID(c *fiber.Ctx) string {
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
