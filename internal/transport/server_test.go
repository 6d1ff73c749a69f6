package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/conversation"
)

type fakeHandler struct {
	got   []conversation.Message
	reply *conversation.Reply
	err   error
	wait  time.Duration
}

func (f *fakeHandler) Handle(ctx context.Context, msg conversation.Message) (*conversation.Reply, error) {
	f.got = append(f.got, msg)
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.reply, f.err
}

func post(t *testing.T, s *Server, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://chief.test"+MessagePath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func inbound() url.Values {
	return url.Values{
		"From":              {"+15550100"},
		"Body":              {"expense 84.12 nails from Home Depot"},
		"MessageSid":        {"SM1"},
		"NumMedia":          {"2"},
		"MediaUrl0":         {"https://media.test/a.jpg"},
		"MediaContentType0": {"image/jpeg"},
		"MediaUrl1":         {"https://media.test/b.pdf"},
		"MediaContentType1": {"application/pdf"},
	}
}

func TestHandleMessage_Reply(t *testing.T) {
	h := &fakeHandler{reply: &conversation.Reply{Text: "Which job is this for? <1> & more"}}
	s := NewServer(ServerConfig{Handler: h})

	w := post(t, s, inbound(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected application/xml, got %q", ct)
	}
	want := "<Response><Message>Which job is this for? &lt;1&gt; &amp; more</Message></Response>"
	if !strings.Contains(w.Body.String(), want) {
		t.Errorf("body %q does not contain %q", w.Body.String(), want)
	}

	if len(h.got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(h.got))
	}
	msg := h.got[0]
	if msg.From != "+15550100" || msg.ID != "SM1" || msg.Text != "expense 84.12 nails from Home Depot" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if len(msg.Media) != 2 || msg.Media[1].URL != "https://media.test/b.pdf" || msg.Media[1].ContentType != "application/pdf" {
		t.Errorf("unexpected media: %+v", msg.Media)
	}
}

func TestHandleMessage_NoReply(t *testing.T) {
	s := NewServer(ServerConfig{Handler: &fakeHandler{}})

	w := post(t, s, inbound(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasSuffix(w.Body.String(), "<Response></Response>") {
		t.Errorf("expected empty response, got %q", w.Body.String())
	}
}

func TestHandleMessage_EngineErrorStillReplies(t *testing.T) {
	s := NewServer(ServerConfig{Handler: &fakeHandler{err: errors.New("state store down")}})

	w := post(t, s, inbound(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "send that again") {
		t.Errorf("expected resend prompt, got %q", w.Body.String())
	}
}

func TestHandleMessage_ReplyTimeout(t *testing.T) {
	h := &fakeHandler{wait: time.Second, reply: &conversation.Reply{Text: "late"}}
	s := NewServer(ServerConfig{Handler: h, ReplyTimeout: 20 * time.Millisecond})

	start := time.Now()
	w := post(t, s, inbound(), nil)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("reply took %v", elapsed)
	}
	if strings.Contains(w.Body.String(), "late") {
		t.Errorf("late reply leaked: %q", w.Body.String())
	}
}

func TestHandleMessage_BadRequests(t *testing.T) {
	s := NewServer(ServerConfig{Handler: &fakeHandler{}})

	req := httptest.NewRequest(http.MethodGet, MessagePath, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", w.Code)
	}

	form := inbound()
	form.Del("MessageSid")
	if w := post(t, s, form, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing sid: expected 400, got %d", w.Code)
	}
}

func TestHandleMessage_Signature(t *testing.T) {
	token := []byte("secret-token")
	h := &fakeHandler{reply: &conversation.Reply{Text: "ok"}}
	s := NewServer(ServerConfig{Handler: h, AuthToken: string(token)})

	form := inbound()
	if w := post(t, s, form, nil); w.Code != http.StatusForbidden {
		t.Errorf("unsigned: expected 403, got %d", w.Code)
	}

	bad := http.Header{SignatureHeader: {"bm90IGEgc2lnbmF0dXJl"}}
	if w := post(t, s, form, bad); w.Code != http.StatusForbidden {
		t.Errorf("bad signature: expected 403, got %d", w.Code)
	}

	sig := Sign(token, "http://chief.test"+MessagePath, form)
	w := post(t, s, form, http.Header{SignatureHeader: {sig}})
	if w.Code != http.StatusOK {
		t.Fatalf("signed: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(h.got) != 1 {
		t.Errorf("expected handler to run once, ran %d times", len(h.got))
	}
}

func TestSignIsOrderIndependent(t *testing.T) {
	a := url.Values{"B": {"2"}, "A": {"1"}}
	b := url.Values{"A": {"1"}, "B": {"2"}}
	if Sign([]byte("k"), "https://x/sms", a) != Sign([]byte("k"), "https://x/sms", b) {
		t.Error("signature depends on map order")
	}
	if ValidSignature([]byte("k"), "https://x/sms", a, "") {
		t.Error("empty signature accepted")
	}
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(ServerConfig{Handler: &fakeHandler{}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %q", w.Code, w.Body.String())
	}
}
