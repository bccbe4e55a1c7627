package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/eikq/arcanum/pkg/speech"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	r, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(speech.StreamConfig{SampleRate: 16000, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	r, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(speech.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_Keywords(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := speech.StreamConfig{
		SampleRate: 16000,
		Keywords: []speech.KeywordBoost{
			{Keyword: "incendio", Boost: 5},
			{Keyword: "protego", Boost: 3.5},
		},
	}

	rawURL, err := r.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	kws := u.Query()["keywords"]
	if len(kws) != 2 {
		t.Fatalf("expected 2 keywords, got %d: %v", len(kws), kws)
	}

	found := map[string]bool{}
	for _, kw := range kws {
		found[kw] = true
	}
	if !found["incendio:5"] {
		t.Errorf("expected keyword 'incendio:5', got %v", kws)
	}
	if !found["protego:3.5"] {
		t.Errorf("expected keyword 'protego:3.5', got %v", kws)
	}
}

func TestBuildURL_NoKeywords(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(speech.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	if _, ok := u.Query()["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

// ---- JSON parsing tests ----

func TestParseResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "incendio",
				"confidence": 0.95
			}]
		}
	}`)

	res, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !res.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "incendio", res.Text)
	if res.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", res.Confidence)
	}
}

func TestParseResponse_Interim(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{"transcript": "incen", "confidence": 0.7}]
		}
	}`)

	res, ok := parseResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if res.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
	assertEqual(t, "text", "incen", res.Text)
}

func TestParseResponse_NonResultsType(t *testing.T) {
	if _, ok := parseResponse([]byte(`{"type":"Metadata","request_id":"abc"}`)); ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`)
	if _, ok := parseResponse(raw); ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	if _, ok := parseResponse([]byte(`{invalid`)); ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, r.model)
	assertEqual(t, "language", defaultLanguage, r.language)
	if r.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, r.sampleRate)
	}
}

// ---- session tests against a local server ----

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStart_StreamsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "Token key" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := req.Context()
		// One audio chunk must arrive before the hypothesis goes out.
		typ, chunk, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read audio: %v", err)
			return
		}
		if typ != websocket.MessageBinary || len(chunk) != 3 {
			t.Errorf("audio frame = %v %d bytes", typ, len(chunk))
		}

		msg := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"glacius","confidence":0.88}]}}`
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Errorf("write result: %v", err)
		}
		// Hold until the client closes the stream.
		conn.Read(ctx)
	}))
	defer srv.Close()

	rec, err := New("key", WithEndpoint(wsEndpoint(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := rec.Start(context.Background(), speech.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case res := <-sess.Results():
		if res.Text != "glacius" || !res.IsFinal || res.Confidence != 0.88 {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result within 2s")
	}
}

func TestStart_AuthRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec, err := New("bad-key", WithEndpoint(wsEndpoint(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = rec.Start(context.Background(), speech.StreamConfig{})
	if !errors.Is(err, speech.ErrPermanent) {
		t.Fatalf("Start error = %v, want speech.ErrPermanent", err)
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conn.Read(req.Context())
	}))
	defer srv.Close()

	rec, err := New("key", WithEndpoint(wsEndpoint(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := rec.Start(context.Background(), speech.StreamConfig{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Close()
	if err := sess.SendAudio([]byte{1}); err == nil {
		t.Fatal("SendAudio after close should error")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
