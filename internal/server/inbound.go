package server

import (
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"statusline/internal/engine"
	"statusline/internal/logging"
)

type inboundHandler struct {
	engine   engine.Engine
	verifier signatureVerifier
	dedupe   Deduper
	logger   *zap.Logger
}

func registerInbound(r chi.Router, basePath string, h inboundHandler) {
	r.Post(path.Join(basePath, "twilio/inbound"), h.ServeHTTP)
}

func (h inboundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "invalid form body", nil))
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	log := logging.FromContext(r.Context(), h.logger)
	if !h.verifier.verify(r, params) {
		log.Warn("rejected webhook with invalid signature")
		respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "invalid webhook signature", nil))
		return
	}

	sid := params["MessageSid"]
	if !h.dedupe.AcquireOnce(r.Context(), sid) {
		log.Info("skipping redelivered message", zap.String("message_sid", sid))
		writeTwiML(w, log, "")
		return
	}

	out := h.engine.HandleMessage(r.Context(), engine.Inbound{
		From:       params["From"],
		Body:       params["Body"],
		MessageSID: sid,
	})
	writeTwiML(w, log, out.Reply)
}

// writeTwiML renders a messaging response with one message, or none when text is empty.
func writeTwiML(w http.ResponseWriter, log *zap.Logger, text string) {
	var verbs []twiml.Element
	if text != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: text})
	}
	doc, err := twiml.Messages(verbs)
	if err != nil {
		log.Error("render twiml", zap.Error(err))
		respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
