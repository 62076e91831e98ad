package genclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestProcessSendsBodyAndDecodesReply(t *testing.T) {
	var got ProcessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != DefaultProcessEndpoint {
			t.Errorf("request=%s %s, want POST %s", r.Method, r.URL.Path, DefaultProcessEndpoint)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"result":"moved","keys_received":["w"],"model_used":"wan_1.3B","processed_at":"12:00:00","current_frame":"AQI=","image_size":[512,512]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	resp, err := client.Process(context.Background(), ProcessRequest{Image: "data:image/png;base64,AQI=", Model: "wan_1.3B"})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if got.Keys == nil || len(got.Keys) != 0 {
		t.Fatalf("sent keys=%v, want empty array", got.Keys)
	}
	if got.Model != "wan_1.3B" {
		t.Fatalf("sent model=%q, want %q", got.Model, "wan_1.3B")
	}
	if !resp.Success || resp.CurrentFrame != "AQI=" || resp.ModelUsed != "wan_1.3B" {
		t.Fatalf("response=%+v, want success with frame", resp)
	}
	if resp.ImageSizeText() != "[512,512]" {
		t.Fatalf("ImageSizeText=%q, want %q", resp.ImageSizeText(), "[512,512]")
	}
}

func TestProcessNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gpu busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := client.Process(context.Background(), ProcessRequest{})
	if err == nil {
		t.Fatal("Process error=nil, want non-nil")
	}
	if code := StatusCode(err); code != http.StatusServiceUnavailable {
		t.Fatalf("StatusCode=%d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestProcessMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	if _, err := client.Process(context.Background(), ProcessRequest{}); err == nil {
		t.Fatal("Process error=nil, want non-nil")
	}
}

func TestProcessSuccessFalseIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"model not loaded"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	resp, err := client.Process(context.Background(), ProcessRequest{})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if resp.Success || resp.Error != "model not loaded" {
		t.Fatalf("response=%+v, want success=false with error", resp)
	}
}

func TestResetAndStatus(t *testing.T) {
	var resetModel string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/reset", func(w http.ResponseWriter, r *http.Request) {
		var body ResetRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		resetModel = body.Model
		_, _ = w.Write([]byte(`{"success":true,"message":"reset ok"}`))
	})
	mux.HandleFunc(DefaultStatusEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("status method=%s, want GET", r.Method)
		}
		_, _ = w.Write([]byte(`{"wan_1.3B":{"status":"ready"},"wan_14B":{"status":"loading"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Endpoints: Endpoints{Reset: "v2/reset"}}, nil)

	resetResp, err := client.Reset(context.Background(), "wan_14B")
	if err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if !resetResp.Success || resetResp.Message != "reset ok" || resetModel != "wan_14B" {
		t.Fatalf("reset=%+v model=%q, want success for wan_14B", resetResp, resetModel)
	}

	report, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if report["wan_1.3B"].Status != "ready" || report["wan_14B"].Status != "loading" {
		t.Fatalf("report=%v, want ready/loading", report)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: url}, nil)
	_, err := client.Status(context.Background())
	if err == nil {
		t.Fatal("Status error=nil, want non-nil")
	}
	if code := StatusCode(err); code != 0 {
		t.Fatalf("StatusCode=%d, want 0 for transport failure", code)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: DefaultProcessEndpoint},
		{in: "api/step", want: "/api/step"},
		{in: " /api/step ", want: "/api/step"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.in, DefaultProcessEndpoint); got != tt.want {
			t.Fatalf("normalizeEndpoint(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
