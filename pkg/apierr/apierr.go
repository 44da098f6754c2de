// Package apierr writes the JSON error envelope shared by every endpoint:
// {"success":false,"message":"..."}.
package apierr

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
)

// Client-facing messages.
const (
	MsgPromptRequired  = "Prompt or image required"
	MsgMessageRequired = "Message required"
	MsgThrottled       = "Please wait a few seconds"
	MsgNoToken         = "Unauthorized: No token provided"
	MsgInvalidToken    = "Unauthorized: Invalid token"
	MsgServerError     = "Server error"
	MsgChatServerError = "Server Error"
	MsgAIError         = "AI Error"
	MsgNotFound        = "Not found"
	MsgInvalidBody     = "Invalid JSON body"
)

type (
	envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	throttledEnvelope struct {
		Success           bool   `json:"success"`
		Message           string `json:"message"`
		RetryAfterSeconds int    `json:"retryAfterSeconds"`
	}
)

// Write writes {"success":false,"message":message} with the given status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	body, _ := json.Marshal(envelope{Message: message})
	send(ctx, status, body)
}

// WriteBadRequest writes a 400.
func WriteBadRequest(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusBadRequest, message)
}

// WriteUnauthorized writes the 401 for a missing or malformed bearer header.
func WriteUnauthorized(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, MsgNoToken)
}

// WriteForbidden writes the 403 for a token that failed verification.
func WriteForbidden(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusForbidden, MsgInvalidToken)
}

// WriteInternal writes a generic 500. Details belong in the server log only.
func WriteInternal(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusInternalServerError, message)
}

// WriteThrottled writes a 429 with a Retry-After header and the same hint in
// the body.
func WriteThrottled(ctx *fasthttp.RequestCtx, retryAfterSeconds int) {
	ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	body, _ := json.Marshal(throttledEnvelope{
		Message:           MsgThrottled,
		RetryAfterSeconds: retryAfterSeconds,
	})
	send(ctx, fasthttp.StatusTooManyRequests, body)
}

func send(ctx *fasthttp.RequestCtx, status int, body []byte) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
