package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const (
	signatureHeader     = "X-Twilio-Signature"
	triggerSecretHeader = "X-Bot-Secret"
)

// TwilioAuth configures inbound webhook verification. AllowUnsigned accepts
// requests that cannot be checked and is meant for local development only.
type TwilioAuth struct {
	AuthToken     string
	AllowUnsigned bool
}

type signatureVerifier struct {
	validator     *client.RequestValidator
	allowUnsigned bool
	publicURL     string
	logger        *zap.Logger
}

func newSignatureVerifier(cfg TwilioAuth, publicURL string, logger *zap.Logger) (signatureVerifier, error) {
	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" && !cfg.AllowUnsigned {
		return signatureVerifier{}, errors.New("twilio auth token is required unless unsigned webhooks are allowed")
	}
	v := signatureVerifier{
		allowUnsigned: cfg.AllowUnsigned,
		publicURL:     strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		logger:        logger,
	}
	if token != "" {
		rv := client.NewRequestValidator(token)
		v.validator = &rv
	}
	if cfg.AllowUnsigned {
		logger.Warn("WARNING: unsigned webhook requests are accepted; do not run this way in production")
	}
	return v, nil
}

// verify reports whether the form post carries a valid signature. A present
// but wrong signature is always rejected.
func (v signatureVerifier) verify(r *http.Request, params map[string]string) bool {
	signature := strings.TrimSpace(r.Header.Get(signatureHeader))
	if v.validator == nil || signature == "" {
		if v.allowUnsigned {
			v.logger.Warn("WARNING: accepting unchecked webhook request",
				zap.Bool("has_signature", signature != ""),
				zap.Bool("has_token", v.validator != nil),
			)
			return true
		}
		return false
	}
	return v.validator.Validate(v.requestURL(r), params, signature)
}

// requestURL is the URL Twilio signed: the configured public origin, or one
// rebuilt from forwarding headers, plus the original path and query.
func (v signatureVerifier) requestURL(r *http.Request) string {
	if v.publicURL != "" {
		return v.publicURL + r.URL.RequestURI()
	}
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
		if r.TLS != nil {
			proto = "https"
		}
	}
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return proto + "://" + host + r.URL.RequestURI()
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// requireTriggerSecret rejects the call before its body is read or validated.
func requireTriggerSecret(api huma.API, secret string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if err := checkTriggerSecret(secret, ctx.Header(triggerSecretHeader)); err != nil {
			huma.WriteErr(api, ctx, err.GetStatus(), err.Error())
			return
		}
		next(ctx)
	}
}

// checkTriggerSecret rejects every call when no secret is configured.
func checkTriggerSecret(configured, presented string) huma.StatusError {
	if configured == "" || subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) != 1 {
		return newAPIError(http.StatusForbidden, "forbidden", "Forbidden", nil)
	}
	return nil
}
