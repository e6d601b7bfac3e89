package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"flowsite.io/internal/identity"
	"flowsite.io/internal/obs"
)

const (
	// DefaultCallbackNext is used when the callback carries no usable next path.
	DefaultCallbackNext = "/reset-password"

	msgMissingToken = "Invalid or missing authentication token"
	msgVerifyFailed = "Could not verify authentication link"
)

// CallbackVerifier completes the two provider flows a callback can carry.
// identity.Client satisfies it and persists the resulting session.
type CallbackVerifier interface {
	VerifyOTP(ctx context.Context, tokenHash string, typ identity.OTPType) (identity.Session, error)
	ExchangeCode(ctx context.Context, code string) (identity.Session, error)
}

// CallbackMethod records which branch handled a callback.
type CallbackMethod string

const (
	CallbackProviderError CallbackMethod = "error"
	CallbackOTP           CallbackMethod = "otp"
	CallbackCode          CallbackMethod = "code"
	CallbackMissing       CallbackMethod = "missing"
)

// CallbackResult is where to send the browser after the callback.
type CallbackResult struct {
	Location string
	Method   CallbackMethod
	Session  identity.Session
	// Message is the failure shown on the sign-in page; empty on success.
	Message string
	Err     error
}

// OK reports whether the callback established a session.
func (r CallbackResult) OK() bool { return r.Message == "" }

// Gateway exchanges callback parameters for a session.
type Gateway struct {
	verifier    CallbackVerifier
	defaultNext string
}

// NewGateway constructs a Gateway.
func NewGateway(verifier CallbackVerifier) *Gateway {
	return &Gateway{verifier: verifier, defaultNext: DefaultCallbackNext}
}

// CompleteCallback applies, in order: a provider-reported error, a one-time
// token hash with its type, an authorization code. Anything else fails.
func (g *Gateway) CompleteCallback(ctx context.Context, params url.Values) CallbackResult {
	if errCode := strings.TrimSpace(params.Get("error")); errCode != "" {
		msg := strings.TrimSpace(params.Get("error_description"))
		if msg == "" {
			msg = errCode
		}
		return g.fail(CallbackProviderError, msg, nil)
	}

	next := SafeNext(params.Get("next"), g.defaultNext)
	tokenHash := strings.TrimSpace(params.Get("token_hash"))
	typ := strings.TrimSpace(params.Get("type"))
	code := strings.TrimSpace(params.Get("code"))

	switch {
	case tokenHash != "" && typ != "":
		s, err := g.verifier.VerifyOTP(ctx, tokenHash, identity.OTPType(typ))
		if err != nil {
			return g.fail(CallbackOTP, providerMessage(err), err)
		}
		return g.succeed(CallbackOTP, next, s)
	case code != "":
		s, err := g.verifier.ExchangeCode(ctx, code)
		if err != nil {
			return g.fail(CallbackCode, providerMessage(err), err)
		}
		return g.succeed(CallbackCode, next, s)
	default:
		return g.fail(CallbackMissing, msgMissingToken, nil)
	}
}

func (g *Gateway) succeed(method CallbackMethod, next string, s identity.Session) CallbackResult {
	obs.AuthCallbacks.WithLabelValues(string(method)).Inc()
	return CallbackResult{Location: next, Method: method, Session: s}
}

func (g *Gateway) fail(method CallbackMethod, msg string, err error) CallbackResult {
	obs.AuthCallbacks.WithLabelValues(string(method) + "_failed").Inc()
	return CallbackResult{
		Location: SignInPath + "?" + url.Values{"error": {msg}}.Encode(),
		Method:   method,
		Message:  msg,
		Err:      err,
	}
}

// SafeNext returns raw when it is a local absolute path, otherwise fallback.
func SafeNext(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}

func providerMessage(err error) string {
	var perr *identity.ProviderError
	if errors.As(err, &perr) && strings.TrimSpace(perr.Message) != "" {
		return perr.Message
	}
	return msgVerifyFailed
}
