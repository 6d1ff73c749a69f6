// Package transport receives SMS-style webhooks and answers them with the
// conversation engine's reply.
//
// The inbound form follows the common carrier layout (From, Body,
// MessageSid, NumMedia, MediaUrlN, MediaContentTypeN). Replies are written as
// a <Response><Message> XML document; an empty <Response/> means no reply.
package transport

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/conversation"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// MessagePath is where the carrier posts inbound messages.
const MessagePath = "/sms"

// SignatureHeader carries the request signature when an auth token is set.
const SignatureHeader = "X-Twilio-Signature"

const replyUnavailable = "Sorry, something went wrong on our side. Please send that again in a minute."

// Handler is the part of the engine the server needs.
type Handler interface {
	Handle(ctx context.Context, msg conversation.Message) (*conversation.Reply, error)
}

// Server handles webhook requests.
type Server struct {
	handler      Handler
	authToken    []byte
	publicURL    string
	replyTimeout time.Duration
	log          *zap.Logger
	mux          *http.ServeMux
	httpServer   *http.Server
}

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Handler Handler
	// AuthToken enables signature checks on inbound requests.
	AuthToken string
	// PublicURL is the externally visible base URL the carrier signs, e.g.
	// "https://chief.example.com". Empty means the request's own URL.
	PublicURL    string
	ReplyTimeout time.Duration
	Logger       *zap.Logger
}

// NewServer creates a new webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		handler:      cfg.Handler,
		authToken:    []byte(cfg.AuthToken),
		publicURL:    cfg.PublicURL,
		replyTimeout: cfg.ReplyTimeout,
		log:          cfg.Logger,
		mux:          http.NewServeMux(),
	}
	if s.replyTimeout <= 0 {
		s.replyTimeout = 12 * time.Second
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}

	s.mux.HandleFunc(MessagePath, s.handleMessage)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// Start starts the HTTP server on the given address. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.replyTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("webhook listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type twiml struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// handleMessage handles POST /sms.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed: use POST", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if len(s.authToken) > 0 {
		if !ValidSignature(s.authToken, s.requestURL(r), r.PostForm, r.Header.Get(SignatureHeader)) {
			s.log.Warn("rejected unsigned webhook", zap.String("remote", r.RemoteAddr))
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	msg, err := parseMessage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.replyTimeout)
	defer cancel()

	reply, err := s.handler.Handle(ctx, msg)
	if err != nil {
		// The message is not dropped silently: the sender is told to resend.
		s.log.Error("handle message", zap.String("message_id", msg.ID), zap.Error(err))
		reply = &conversation.Reply{Text: replyUnavailable}
	}
	s.writeReply(w, reply)
}

func parseMessage(r *http.Request) (conversation.Message, error) {
	msg := conversation.Message{
		From: r.PostForm.Get("From"),
		Text: r.PostForm.Get("Body"),
		ID:   r.PostForm.Get("MessageSid"),
	}
	if msg.ID == "" {
		msg.ID = r.PostForm.Get("SmsMessageSid")
	}
	if msg.From == "" || msg.ID == "" {
		return msg, fmt.Errorf("From and MessageSid are required")
	}

	n, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	for i := 0; i < n && i < 10; i++ {
		u := r.PostForm.Get(fmt.Sprintf("MediaUrl%d", i))
		if u == "" {
			continue
		}
		msg.Media = append(msg.Media, types.Media{
			URL:         u,
			ContentType: r.PostForm.Get(fmt.Sprintf("MediaContentType%d", i)),
		})
	}
	return msg, nil
}

func (s *Server) requestURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) writeReply(w http.ResponseWriter, reply *conversation.Reply) {
	var doc twiml
	if reply != nil && reply.Text != "" {
		doc.Messages = []string{reply.Text}
	}
	body, err := xml.Marshal(doc)
	if err != nil {
		http.Error(w, "encode reply", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
