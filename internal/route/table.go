// Package route はパスパターンからバックエンドと認可述語を引くルートテーブルを提供する。
//
// テーブルは起動時に一度だけ構築され、以降は変更されない。照合は宣言順に行い、
// 最初に一致したエントリを採用する。より具体的なプレフィックスは、それを覆う
// 汎用的なプレフィックスより前に宣言しなければならない。
package route

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/nao1215/gpsgateway/internal/authz"
)

// Rewrite は転送先パスへの書き換え規則。Patternに一致した部分をReplacementで置換する。
type Rewrite struct {
	// Pattern は書き換え対象の正規表現。通常は "^/prefix" の形式。
	Pattern *regexp.Regexp
	// Replacement は置換文字列。
	Replacement string
}

// Apply はパスを書き換える。Patternが無い場合はそのまま返す。
func (r Rewrite) Apply(p string) string {
	if r.Pattern == nil {
		return p
	}
	rewritten := r.Pattern.ReplaceAllString(p, r.Replacement)
	if rewritten == "" {
		return "/"
	}
	return rewritten
}

// Entry はルートテーブルの1エントリ。
type Entry struct {
	// Name はログとメトリクスに使うルート名。
	Name string
	// Pattern はプレフィックスパターン。":name" のセグメントは任意の1セグメントに一致する。
	Pattern string
	// Methods は対象とするHTTPメソッド。空の場合は全メソッドが対象。
	Methods []string
	// Backend は転送先バックエンドの識別子。
	Backend string
	// Rewrite は転送先パスの書き換え規則。
	Rewrite Rewrite
	// Predicates は宣言順に評価する認可述語。
	Predicates []authz.Predicate

	segments []string
}

// Match は照合結果。
type Match struct {
	// Entry は一致したエントリ。
	Entry *Entry
	// Params はパターンの名前付きパラメータの値。
	Params map[string]string
	// Path は正規化済みのリクエストパス。
	Path string
}

// ForwardPath は書き換え後の転送先パスを返す。
func (m Match) ForwardPath() string {
	return m.Entry.Rewrite.Apply(m.Path)
}

// Table は宣言順のルートテーブル。
type Table struct {
	entries []*Entry
}

// NewTable はエントリを検証してテーブルを構築する。
// knownBackendsが空でない場合、全エントリのBackendが含まれている必要がある。
func NewTable(entries []Entry, knownBackends ...string) (*Table, error) {
	t := &Table{entries: make([]*Entry, 0, len(entries))}
	for i := range entries {
		e := entries[i]
		if e.Pattern == "" || !strings.HasPrefix(e.Pattern, "/") {
			return nil, fmt.Errorf("ルート %d (%s): パターンは / で始まる必要があります: %q", i, e.Name, e.Pattern)
		}
		if e.Backend == "" {
			return nil, fmt.Errorf("ルート %d (%s): バックエンドが指定されていません", i, e.Name)
		}
		if len(knownBackends) > 0 && !slices.Contains(knownBackends, e.Backend) {
			return nil, fmt.Errorf("ルート %d (%s): 未知のバックエンド %q", i, e.Name, e.Backend)
		}
		if e.Name == "" {
			e.Name = e.Pattern
		}
		e.segments = splitPath(Normalize(e.Pattern))
		e.Methods = upper(e.Methods)
		t.entries = append(t.entries, &e)
	}
	return t, nil
}

// ErrNoMatch はどのエントリにも一致しない場合のエラー。
var ErrNoMatch = errors.New("no route matches the request")

// Match はメソッドとパスに最初に一致したエントリを返す。
func (t *Table) Match(method, rawPath string) (Match, error) {
	p := Normalize(rawPath)
	segs := splitPath(p)
	method = strings.ToUpper(method)

	for _, e := range t.entries {
		if len(e.Methods) > 0 && !slices.Contains(e.Methods, method) {
			continue
		}
		if params, ok := e.match(segs); ok {
			return Match{Entry: e, Params: params, Path: p}, nil
		}
	}
	return Match{Path: p}, ErrNoMatch
}

// match はパターンのセグメントがパスの先頭セグメントに一致するかを判定する。
func (e *Entry) match(segs []string) (map[string]string, bool) {
	if len(segs) < len(e.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, want := range e.segments {
		got := segs[i]
		if name, ok := strings.CutPrefix(want, ":"); ok {
			params[name] = got
			continue
		}
		if got != want {
			return nil, false
		}
	}
	return params, true
}

// Normalize はパスを正規化する。"." と ".." を解決し、重複と末尾のスラッシュを取り除く。
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// splitPath は正規化済みのパスをセグメントに分割する。ルートは空のスライスになる。
func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// upper はメソッド名を大文字に揃える。
func upper(methods []string) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, strings.ToUpper(m))
	}
	return out
}

// PrefixRewrite は "^from" を to に置換する書き換え規則を生成する。
func PrefixRewrite(from, to string) Rewrite {
	return Rewrite{
		Pattern:     regexp.MustCompile("^" + regexp.QuoteMeta(from)),
		Replacement: to,
	}
}
