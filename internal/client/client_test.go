package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/chatsync/internal/api"
)

// serve runs handler on a control socket and a health server on a second
// socket, returning a connected client.
func serve(t *testing.T, handler http.Handler) (*Client, *health.Server) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "cs-client-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	hsock := filepath.Join(dir, "h.sock")
	hln, err := net.Listen("unix", hsock)
	if err != nil {
		t.Fatal(err)
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() { _ = gs.Serve(hln) }()
	t.Cleanup(gs.Stop)

	c, err := New(sock, hsock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, hs
}

func TestStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.StatusResponse{Profile: "main", State: "CONNECTED", UserID: "u1"})
	})
	c, _ := serve(t, mux)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Profile != "main" || st.State != "CONNECTED" || st.UserID != "u1" {
		t.Errorf("status = %+v", st)
	}
}

func TestReportActivityOmitsUnsetFields(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/activity", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.StatusResponse{State: "CONNECTED"})
	})
	c, _ := serve(t, mux)

	screen := "list"
	st, err := c.ReportActivity(context.Background(), Activity{Screen: &screen, Pulse: true})
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "CONNECTED" {
		t.Errorf("status = %+v", st)
	}
	if len(got) != 2 || got["screen"] != "list" || got["pulse"] != true {
		t.Errorf("request body = %v", got)
	}
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = io.WriteString(w, `{"code":"delivery_timeout","message":"message delivery timed out"}`)
	})
	c, _ := serve(t, mux)

	_, err := c.Send(context.Background(), "C1", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusGatewayTimeout || apiErr.Code != "delivery_timeout" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSendAndMarkRead(t *testing.T) {
	var gotText, gotRead string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotText = r.PathValue("id") + ":" + req.Text
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "srv-1"})
	})
	mux.HandleFunc("POST /v1/conversations/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MessageID string `json:"message_id"`
		}
		if r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		gotRead = r.PathValue("id") + ":" + req.MessageID
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := serve(t, mux)

	id, err := c.Send(context.Background(), "C1", "hello")
	if err != nil || id != "srv-1" {
		t.Fatalf("Send = %q, %v", id, err)
	}
	if gotText != "C1:hello" {
		t.Errorf("server saw %q", gotText)
	}
	if err := c.MarkRead(context.Background(), "C1", ""); err != nil {
		t.Fatal(err)
	}
	if gotRead != "C1:" {
		t.Errorf("server saw %q", gotRead)
	}
}

func TestWatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := range 3 {
			data, _ := json.Marshal(api.Envelope{EventID: fmt.Sprint(i), Kind: r.URL.Query().Get("namespace") + "x"})
			fmt.Fprintf(w, "id: %d\nevent: x\ndata: %s\n\n", i, data)
		}
	})
	c, _ := serve(t, mux)

	var kinds []string
	stop := errors.New("stop")
	err := c.Watch(context.Background(), "message.", func(env api.Envelope) error {
		kinds = append(kinds, env.Kind)
		if len(kinds) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Watch = %v", err)
	}
	if kinds[0] != "message.x" || kinds[1] != "message.x" {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestCheck(t *testing.T) {
	c, hs := serve(t, http.NewServeMux())
	hs.SetServingStatus("chatsync.Connection", healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, "")
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check(\"\") = %v, %v", resp, err)
	}
	resp, err = c.Check(ctx, "chatsync.Connection")
	if err != nil || resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Check(connection) = %v, %v", resp, err)
	}
}

func TestDaemonNotRunning(t *testing.T) {
	c, err := New("/tmp/cs-does-not-exist.sock", "/tmp/cs-does-not-exist-h.sock")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected error without daemon")
	}
}
