package route

import (
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/nao1215/gpsgateway/internal/authz"
)

// mustTable はテーブルを構築し、失敗した場合はテストを中断する。
func mustTable(t *testing.T, entries []Entry) *Table {
	t.Helper()

	table, err := NewTable(entries)
	if err != nil {
		t.Fatalf("NewTable()でエラーが発生: %v", err)
	}
	return table
}

// testEntries はテスト用のルート定義。具体的なプレフィックスを先に宣言している。
func testEntries() []Entry {
	return []Entry{
		{Name: "users-admin", Pattern: "/usuarios/admin", Backend: "usuarios", Rewrite: PrefixRewrite("/usuarios/admin", "/admin"),
			Predicates: []authz.Predicate{authz.HasAnyRole("admin")}},
		{Name: "users-by-id", Pattern: "/usuarios/:id", Backend: "usuarios", Rewrite: PrefixRewrite("/usuarios", "/api/usuarios")},
		{Name: "users", Pattern: "/usuarios", Backend: "usuarios", Rewrite: PrefixRewrite("/usuarios", "/api/usuarios")},
		{Name: "purchases-by-rut", Pattern: "/api/purchases/person/:rut", Backend: "transacciones"},
		{Name: "purchases-write", Pattern: "/api/purchases", Methods: []string{"post"}, Backend: "transacciones"},
		{Name: "purchases", Pattern: "/api/purchases", Backend: "transacciones"},
	}
}

// TestNewTable はテーブル構築時の検証を確認する。
func TestNewTable(t *testing.T) {
	t.Parallel()

	t.Run("スラッシュで始まらないパターンはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewTable([]Entry{{Pattern: "usuarios", Backend: "usuarios"}}); err == nil {
			t.Error("エラーが返るべき")
		}
	})

	t.Run("バックエンド未指定はエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewTable([]Entry{{Pattern: "/usuarios"}}); err == nil {
			t.Error("エラーが返るべき")
		}
	})

	t.Run("未知のバックエンドはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := NewTable([]Entry{{Pattern: "/usuarios", Backend: "unknown"}}, "usuarios", "inventario")
		if err == nil {
			t.Error("エラーが返るべき")
		}
	})

	t.Run("名前の無いエントリはパターンを名前にすること", func(t *testing.T) {
		t.Parallel()

		table := mustTable(t, []Entry{{Pattern: "/api/productos", Backend: "inventario"}})
		m, err := table.Match(http.MethodGet, "/api/productos")
		if err != nil {
			t.Fatalf("Match()でエラーが発生: %v", err)
		}
		if got := m.Entry.Name; got != "/api/productos" {
			t.Errorf("Name = %q, want %q", got, "/api/productos")
		}
	})
}

// TestTableMatch はルート照合を検証する。
func TestTableMatch(t *testing.T) {
	t.Parallel()

	table := mustTable(t, testEntries())

	tests := []struct {
		name       string
		method     string
		path       string
		wantRoute  string
		wantParams map[string]string
		wantPath   string
	}{
		{name: "具体的なプレフィックスが汎用的なものより優先されること", method: http.MethodGet, path: "/usuarios/admin/x",
			wantRoute: "users-admin", wantPath: "/admin/x"},
		{name: "プレフィックスと完全一致するパスにも一致すること", method: http.MethodGet, path: "/usuarios/admin",
			wantRoute: "users-admin", wantPath: "/admin"},
		{name: "名前付きパラメータを取り出せること", method: http.MethodGet, path: "/usuarios/2",
			wantRoute: "users-by-id", wantParams: map[string]string{"id": "2"}, wantPath: "/api/usuarios/2"},
		{name: "パラメータの後ろにセグメントが続いても一致すること", method: http.MethodPut, path: "/usuarios/2/profile",
			wantRoute: "users-by-id", wantParams: map[string]string{"id": "2"}, wantPath: "/api/usuarios/2/profile"},
		{name: "ベースパスは汎用エントリに一致すること", method: http.MethodPost, path: "/usuarios",
			wantRoute: "users", wantPath: "/api/usuarios"},
		{name: "末尾のスラッシュは無視されること", method: http.MethodGet, path: "/usuarios/",
			wantRoute: "users", wantPath: "/api/usuarios"},
		{name: "ドットセグメントを解決してから照合すること", method: http.MethodGet, path: "/usuarios/2/../admin/roles",
			wantRoute: "users-admin", wantPath: "/admin/roles"},
		{name: "RUTパラメータを取り出せること", method: http.MethodGet, path: "/api/purchases/person/33333333-3",
			wantRoute: "purchases-by-rut", wantParams: map[string]string{"rut": "33333333-3"}, wantPath: "/api/purchases/person/33333333-3"},
		{name: "メソッド指定のエントリは対象メソッドにのみ一致すること", method: http.MethodPost, path: "/api/purchases",
			wantRoute: "purchases-write", wantPath: "/api/purchases"},
		{name: "対象外メソッドは後続のエントリに一致すること", method: http.MethodGet, path: "/api/purchases",
			wantRoute: "purchases", wantPath: "/api/purchases"},
		{name: "書き換え規則が無い場合はパスをそのまま使うこと", method: http.MethodGet, path: "/api/purchases/date-range",
			wantRoute: "purchases", wantPath: "/api/purchases/date-range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := table.Match(tt.method, tt.path)
			if err != nil {
				t.Fatalf("Match()でエラーが発生: %v", err)
			}
			if m.Entry.Name != tt.wantRoute {
				t.Errorf("route = %q, want %q", m.Entry.Name, tt.wantRoute)
			}
			for k, v := range tt.wantParams {
				if m.Params[k] != v {
					t.Errorf("Params[%q] = %q, want %q", k, m.Params[k], v)
				}
			}
			if got := m.ForwardPath(); got != tt.wantPath {
				t.Errorf("ForwardPath() = %q, want %q", got, tt.wantPath)
			}
		})
	}

	t.Run("セグメント途中の一致はプレフィックス一致とみなさないこと", func(t *testing.T) {
		t.Parallel()

		_, err := table.Match(http.MethodGet, "/usuariosx")
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("err = %v, want ErrNoMatch", err)
		}
	})

	t.Run("未登録のパスはErrNoMatchになること", func(t *testing.T) {
		t.Parallel()

		m, err := table.Match(http.MethodGet, "/unknown/path")
		if !errors.Is(err, ErrNoMatch) {
			t.Errorf("err = %v, want ErrNoMatch", err)
		}
		if m.Path != "/unknown/path" {
			t.Errorf("Path = %q, want %q", m.Path, "/unknown/path")
		}
	})

	t.Run("同じリクエストには常に同じエントリを返すこと", func(t *testing.T) {
		t.Parallel()

		first, _ := table.Match(http.MethodGet, "/usuarios/admin/x")
		second, _ := table.Match(http.MethodGet, "/usuarios/admin/x")
		if first.Entry != second.Entry {
			t.Error("照合結果が変化した")
		}
	})
}

// TestRewrite は書き換え規則を検証する。
func TestRewrite(t *testing.T) {
	t.Parallel()

	t.Run("プレフィックスのメタ文字はエスケープされること", func(t *testing.T) {
		t.Parallel()

		r := PrefixRewrite("/api/v1.0", "/v1")
		if got := r.Apply("/api/v1x0/items"); got != "/api/v1x0/items" {
			t.Errorf("Apply() = %q, want unchanged", got)
		}
		if got := r.Apply("/api/v1.0/items"); got != "/v1/items" {
			t.Errorf("Apply() = %q, want %q", got, "/v1/items")
		}
	})

	t.Run("全体を空文字列に置換した場合はルートになること", func(t *testing.T) {
		t.Parallel()

		r := Rewrite{Pattern: regexp.MustCompile("^/strip"), Replacement: ""}
		if got := r.Apply("/strip"); got != "/" {
			t.Errorf("Apply() = %q, want %q", got, "/")
		}
	})
}
