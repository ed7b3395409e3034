package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region mock
type mockConn struct {
	grpc.ClientConnInterface

	method string
	prompt string
	resp   string
	err    error
}

func (m *mockConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	m.method = method
	m.prompt = args.(*wrapperspb.StringValue).GetValue()
	if m.err != nil {
		return m.err
	}
	reply.(*wrapperspb.StringValue).Value = m.resp
	return nil
}

// #endregion mock

// #region grpc-tests
func TestNewGRPCOracleLazyDial(t *testing.T) {
	o, err := NewGRPCOracle("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer o.Close()
}

func TestGRPCInvokeSuccess(t *testing.T) {
	conn := &mockConn{resp: `{"ok":true}`}
	o := NewGRPCOracleWithConn(conn)

	out, err := o.Invoke(context.Background(), "predict intent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"ok":true}` {
		t.Fatalf("unexpected response %q", out)
	}
	if conn.method != InvokeMethod {
		t.Fatalf("method = %s, want %s", conn.method, InvokeMethod)
	}
	if conn.prompt != "predict intent" {
		t.Fatalf("prompt = %q", conn.prompt)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close without owned conn: %v", err)
	}
}

func TestGRPCInvokeClassifiesErrors(t *testing.T) {
	tests := []struct {
		code      codes.Code
		transient bool
		fatal     bool
	}{
		{codes.Unavailable, true, false},
		{codes.DeadlineExceeded, true, false},
		{codes.InvalidArgument, false, true},
		{codes.Internal, false, false},
	}
	for _, tt := range tests {
		o := NewGRPCOracleWithConn(&mockConn{err: status.Error(tt.code, "boom")})
		_, err := o.Invoke(context.Background(), "p")
		if err == nil {
			t.Fatalf("%s: expected error", tt.code)
		}
		if IsTransient(err) != tt.transient || IsFatal(err) != tt.fatal {
			t.Errorf("%s: transient=%v fatal=%v", tt.code, IsTransient(err), IsFatal(err))
		}
	}
}

// #endregion grpc-tests

// #region openai-tests
func TestOpenAIInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			http.Error(w, `{"error":{"message":"bad model"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"x\":1}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	o, err := NewOpenAIOracle(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewOpenAIOracle: %v", err)
	}
	out, err := o.Invoke(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != `{"x":1}` {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestOpenAIServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAIOracle(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := o.Invoke(context.Background(), "hello")
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestNewOpenAIOracleRequiresModel(t *testing.T) {
	if _, err := NewOpenAIOracle(OpenAIConfig{}); err == nil {
		t.Fatal("expected error without model")
	}
}

// #endregion openai-tests

// #region retry-tests
func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingRetriesTransient(t *testing.T) {
	calls := 0
	inner := Func(func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("busy"))
		}
		return "done", nil
	})
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMultiplier: 2}, nil)
	r.sleep = noSleep

	out, err := r.Invoke(context.Background(), "p")
	if err != nil || out != "done" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryingStopsOnFatal(t *testing.T) {
	calls := 0
	inner := Func(func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "", NewFatalError(errors.New("bad request"))
	})
	r := NewRetrying(inner, DefaultRetryConfig(), nil)
	r.sleep = noSleep

	if _, err := r.Invoke(context.Background(), "p"); !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryingGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	inner := Func(func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "", NewTransientError(errors.New("busy"))
	})
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 2}, nil)
	r.sleep = noSleep

	if _, err := r.Invoke(context.Background(), "p"); !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryingAttemptTimeout(t *testing.T) {
	inner := Func(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}, nil)

	start := time.Now()
	_, err := r.Invoke(context.Background(), "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("attempt timeout not enforced")
	}
}

func TestRetryingHonoursCancelDuringBackoff(t *testing.T) {
	inner := Func(func(ctx context.Context, prompt string) (string, error) {
		return "", NewTransientError(errors.New("busy"))
	})
	r := NewRetrying(inner, RetryConfig{MaxAttempts: 5, BackoffBase: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Invoke(ctx, "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(time.Second)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
	if jitter(0) != 0 {
		t.Fatal("jitter(0) must be 0")
	}
}

// #endregion retry-tests
