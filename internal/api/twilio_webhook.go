package api

import (
	"encoding/xml"
	"log/slog"
	"net/http"
)

// twilioSignatureHeader carries the HMAC signature Twilio attaches to webhooks.
const twilioSignatureHeader = "X-Twilio-Signature"

// twimlResponse is the minimal TwiML document for replying to an inbound SMS.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// smsWebhookHandler handles POST /webhook/sms. Twilio delivers inbound SMS as
// form-encoded POSTs; the reply travels back as TwiML in the response body.
func (s *Server) smsWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.smsWebhookHandler: processing webhook", "method", r.Method)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.smsWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.smsWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		url := s.publicURL + r.URL.RequestURI()
		signature := r.Header.Get(twilioSignatureHeader)
		if !s.validator.ValidateSignature(url, params, signature) {
			slog.Warn("Server.smsWebhookHandler: signature validation failed", "message_sid", r.PostForm.Get("MessageSid"))
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	messageSid := r.PostForm.Get("MessageSid")
	if from == "" {
		slog.Warn("Server.smsWebhookHandler: missing From parameter", "message_sid", messageSid)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	slog.Debug("Server.smsWebhookHandler: inbound message", "message_sid", messageSid, "body_length", len(body))

	reply, err := s.respHandler.HandleIncoming(r.Context(), from, body)
	if err != nil {
		slog.Error("Server.smsWebhookHandler: failed to process inbound message", "error", err, "message_sid", messageSid)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeTwiML(w, reply)
}

// writeTwiML writes a TwiML response. An empty reply produces an empty
// <Response/> so Twilio sends nothing back to the sender.
func writeTwiML(w http.ResponseWriter, reply string) {
	doc := twimlResponse{Message: reply}
	out, err := xml.Marshal(doc)
	if err != nil {
		slog.Error("Server.writeTwiML: failed to marshal TwiML", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		slog.Error("Server.writeTwiML: failed to write header", "error", err)
		return
	}
	if _, err := w.Write(out); err != nil {
		slog.Error("Server.writeTwiML: failed to write body", "error", err)
	}
}
