package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"
)

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("タイムアウト未指定の場合は30秒になること", func(t *testing.T) {
		t.Parallel()

		client := New(Options{})
		if client.Timeout() != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.Timeout())
		}
	})

	t.Run("指定したタイムアウトが使われること", func(t *testing.T) {
		t.Parallel()

		client := New(Options{Timeout: 5 * time.Second, Tracing: true})
		if client.Timeout() != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", client.Timeout())
		}
	})
}

// TestDo はDo関数を検証する。
func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("リダイレクトを追跡せずそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer ts.Close()

		client := New(Options{})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/start", nil)
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusFound {
			t.Errorf("ステータスコード = %d, want %d", resp.StatusCode, http.StatusFound)
		}
		if got := resp.Header.Get("Location"); got != "/elsewhere" {
			t.Errorf("Location = %q, want %q", got, "/elsewhere")
		}
	})

	t.Run("応答が遅いバックエンドはタイムアウトに分類されること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		client := New(Options{Timeout: 50 * time.Millisecond})
		ctx, cancel := client.WithTimeout(context.Background())
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}
		_, err = client.Do(req)
		if got := Classify(err); got != FailureTimeout {
			t.Errorf("Classify() = %v, want %v (err=%v)", got, FailureTimeout, err)
		}
	})

	t.Run("接続できないバックエンドは接続不可に分類されること", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("リッスンに失敗: %v", err)
		}
		addr := ln.Addr().String()
		ln.Close()

		client := New(Options{Timeout: time.Second})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr, nil)
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}
		_, err = client.Do(req)
		if got := Classify(err); got != FailureUnavailable {
			t.Errorf("Classify() = %v, want %v (err=%v)", got, FailureUnavailable, err)
		}
	})
}

// TestClassify はClassify関数を検証する。
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Failure
	}{
		{name: "nilは失敗なしになること", err: nil, want: FailureNone},
		{name: "期限切れはタイムアウトになること", err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: FailureTimeout},
		{name: "取り消しは取り消しになること", err: fmt.Errorf("wrap: %w", context.Canceled), want: FailureCanceled},
		{name: "接続拒否は接続不可になること", err: &net.OpError{Op: "read", Err: syscall.ECONNREFUSED}, want: FailureUnavailable},
		{name: "名前解決の失敗は接続不可になること", err: &net.DNSError{Err: "no such host", Name: "backend"}, want: FailureUnavailable},
		{name: "その他のエラーはotherになること", err: errors.New("malformed HTTP response"), want: FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
