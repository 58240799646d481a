package accesslog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memorySink はテスト用のSink。
type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	// block が閉じられるまでInsertを待たせる。nilの場合は待たない。
	block chan struct{}
	err   error
}

func (m *memorySink) Insert(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *memorySink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// TestRecorder はRecorderを検証する。
func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("Closeで書き込み待ちのエントリが全て書き込まれること", func(t *testing.T) {
		t.Parallel()

		sink := &memorySink{}
		r := NewRecorder(sink, 16, newTestLogger())
		for i := 0; i < 10; i++ {
			if !r.Record(Entry{RequestID: "r"}) {
				t.Fatalf("%d件目のRecord()が失敗", i)
			}
		}
		if err := r.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if got := sink.len(); got != 10 {
			t.Errorf("書き込み件数 = %d, want 10", got)
		}
	})

	t.Run("バッファが満杯の場合はブロックせずに破棄すること", func(t *testing.T) {
		t.Parallel()

		sink := &memorySink{block: make(chan struct{})}
		r := NewRecorder(sink, 1, newTestLogger())

		// ワーカーが1件目を取り出してInsertで待つまで投入を続ける
		accepted := 0
		deadline := time.Now().Add(2 * time.Second)
		for r.Dropped() == 0 && time.Now().Before(deadline) {
			if r.Record(Entry{RequestID: "r"}) {
				accepted++
			}
		}
		if r.Dropped() == 0 {
			t.Fatal("満杯のバッファでエントリが破棄されていない")
		}

		close(sink.block)
		if err := r.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if got := sink.len(); got != accepted {
			t.Errorf("書き込み件数 = %d, want %d", got, accepted)
		}
	})

	t.Run("Close後のRecordは破棄されること", func(t *testing.T) {
		t.Parallel()

		r := NewRecorder(&memorySink{}, 4, newTestLogger())
		if err := r.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if r.Record(Entry{}) {
			t.Error("Close後のRecord()はfalseを返すべき")
		}
		if err := r.Close(context.Background()); err != nil {
			t.Errorf("2回目のClose()でエラーが発生: %v", err)
		}
	})

	t.Run("書き込みエラーがあっても処理を続けること", func(t *testing.T) {
		t.Parallel()

		sink := &memorySink{err: errors.New("disk full")}
		r := NewRecorder(sink, 4, newTestLogger())
		r.Record(Entry{})
		r.Record(Entry{})
		if err := r.Close(context.Background()); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if got := sink.len(); got != 2 {
			t.Errorf("書き込み試行件数 = %d, want 2", got)
		}
	})

	t.Run("ctxが終了した場合は残りを待たずに戻ること", func(t *testing.T) {
		t.Parallel()

		sink := &memorySink{block: make(chan struct{})}
		defer close(sink.block)
		r := NewRecorder(sink, 4, newTestLogger())
		r.Record(Entry{})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := r.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Close() = %v, want %v", err, context.DeadlineExceeded)
		}
	})
}
