package extraction

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/support-copilot/internal/llm"
)

func TestWhisperTranscriber_SendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			t.Errorf("unexpected fields model=%q language=%q", r.FormValue("model"), r.FormValue("language"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "RIFFDATA" || header.Filename != "voicemail.wav" {
				t.Errorf("unexpected upload %q %q", header.Filename, data)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"please call me back","language":"en","duration":4.2}`))
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Language: "en"}, nil)
	text, err := tr.Transcribe(context.Background(), []byte("RIFFDATA"), "voicemail.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "please call me back" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestWhisperTranscriber_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	calls := 0
	tr := NewWhisperTranscriber(WhisperConfig{BaseURL: srv.URL}, nil)
	err := llm.RetryPolicy{MaxAttempts: 3}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		_, err := tr.Transcribe(ctx, []byte("x"), "a.ogg")
		return err
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected no retries for 400, got %d calls", calls)
	}
}

func TestWhisperTranscriber_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{BaseURL: srv.URL}, nil)
	_, err := tr.Transcribe(context.Background(), []byte("x"), "a.ogg")
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.IsPermanent(err) {
		t.Fatalf("5xx should not be marked permanent: %v", err)
	}
}

func TestFitzRasterizer_RejectsGarbage(t *testing.T) {
	r := NewFitzRasterizer(5)
	if _, err := r.Rasterize(context.Background(), []byte("not a pdf")); err == nil {
		t.Fatal("expected error for invalid pdf")
	}
}

func TestWhisperTranscriber_Ping(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	tr := NewWhisperTranscriber(WhisperConfig{BaseURL: srv.URL + "/v1"}, nil)
	if err := tr.Ping(context.Background()); err != nil {
		t.Fatalf("expected 404 to count as reachable, got %v", err)
	}

	status = http.StatusBadGateway
	if err := tr.Ping(context.Background()); err == nil {
		t.Fatal("expected 502 to fail the probe")
	}
}
