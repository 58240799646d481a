package accesslog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sink はエントリの書き込み先。
type Sink interface {
	Insert(ctx context.Context, e Entry) error
}

// DefaultBuffer は書き込み待ちエントリのデフォルト上限。
const DefaultBuffer = 1024

// writeTimeout は1件の書き込みにかける時間の上限。
const writeTimeout = 5 * time.Second

// Recorder はエントリを非同期にSinkへ書き込む。
type Recorder struct {
	// sink は書き込み先。
	sink Sink
	// logger は書き込み失敗と破棄を記録する。
	logger *logrus.Logger
	// queue は書き込み待ちのエントリ。
	queue chan Entry
	// done はワーカーの終了を通知する。
	done chan struct{}
	// closeOnce はCloseの多重実行を防ぐ。
	closeOnce sync.Once
	// mu はqueueのクローズとRecordの送信を排他する。
	mu sync.RWMutex
	// closed はClose済みかどうか。
	closed bool
	// dropped は破棄したエントリ数。
	dropped atomic.Int64
}

// NewRecorder はbuffer件まで書き込み待ちを保持するRecorderを起動する。
func NewRecorder(sink Sink, buffer int, logger *logrus.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		sink:   sink,
		logger: logger,
		queue:  make(chan Entry, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record はエントリを書き込み待ちに追加する。ブロックしない。
// バッファが満杯またはClose済みの場合は破棄してfalseを返す。
func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		n := r.dropped.Add(1)
		r.logger.WithFields(logrus.Fields{
			"request_id": e.RequestID,
			"dropped":    n,
		}).Warn("アクセスログのバッファが満杯のためエントリを破棄しました")
		return false
	}
}

// Dropped は破棄したエントリ数を返す。
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close は書き込み待ちのエントリを全て書き込んでからワーカーを停止する。
// ctxが先に終了した場合は残りを待たずに戻る。
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run はqueueが閉じられるまでエントリを書き込む。
func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Insert(ctx, e); err != nil {
			r.logger.WithError(err).WithField("request_id", e.RequestID).
				Warn("アクセスログの書き込みに失敗しました")
		}
		cancel()
	}
}
