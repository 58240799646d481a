package gateway

import (
	"net/http"

	"github.com/nao1215/gpsgateway/internal/authz"
	"github.com/nao1215/gpsgateway/internal/config"
	"github.com/nao1215/gpsgateway/internal/route"
)

// ロール名。
const (
	roleAdmin      = "admin"
	roleSupervisor = "supervisor"
	roleBuyer      = "buyer"
	roleSeller     = "seller"
)

// permissionInventoryWrite は在庫の書き込み権限。
const permissionInventoryWrite = "INVENTORY_WRITE"

// DefaultRoutes は標準のルートテーブルを宣言順で返す。
// 具体的なプレフィックスは、それを覆う汎用的なプレフィックスより前に置く。
func DefaultRoutes() []route.Entry {
	return []route.Entry{
		// ユーザーサービス
		{
			Name:    "usuarios-login",
			Pattern: "/usuarios/login",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/usuarios/login", "/api/usuarios/login"),
		},
		{
			Name:    "usuarios-register",
			Pattern: "/usuarios/register",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/usuarios/register", "/api/usuarios/register"),
		},
		{
			Name:    "usuarios-admin",
			Pattern: "/usuarios/admin",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/usuarios/admin", "/admin"),
			Predicates: []authz.Predicate{
				authz.HasAnyRole(roleAdmin).WithMessage("Admin role required"),
			},
		},
		{
			Name:    "roles",
			Pattern: "/api/roles",
			Backend: config.BackendUsuarios,
			Predicates: []authz.Predicate{
				authz.HasAnyRole(roleAdmin).WithMessage("Admin role required"),
			},
		},
		{
			Name:    "permissions",
			Pattern: "/api/permissions",
			Backend: config.BackendUsuarios,
			Predicates: []authz.Predicate{
				authz.HasAnyRole(roleAdmin).WithMessage("Admin role required"),
			},
		},
		{
			Name:    "usuarios-by-id",
			Pattern: "/usuarios/:id",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/usuarios", "/api/usuarios"),
			Predicates: []authz.Predicate{
				authz.ExceptMethods(authz.OwnerOf("id", roleAdmin), http.MethodPost),
			},
		},
		{
			Name:    "usuarios",
			Pattern: "/usuarios",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/usuarios", "/api/usuarios"),
		},
		{
			Name:    "beneficiarios",
			Pattern: "/beneficiarios",
			Backend: config.BackendUsuarios,
			Rewrite: route.PrefixRewrite("/beneficiarios", "/api/beneficiarios"),
			Predicates: []authz.Predicate{
				authz.HasAnyRole(roleAdmin, roleSupervisor).WithMessage("Admin or supervisor role required"),
			},
		},

		// 在庫サービス
		{
			Name:    "bodegas",
			Pattern: "/api/bodegas",
			Backend: config.BackendInventario,
			Predicates: []authz.Predicate{
				authz.OnMutations(authz.HasAnyRole(roleSupervisor, roleAdmin).
					WithMessage("Supervisor or admin role required to modify warehouses")),
			},
		},
		{
			Name:    "lotes",
			Pattern: "/api/lotes",
			Backend: config.BackendInventario,
			Predicates: []authz.Predicate{
				authz.OnMethods([]string{http.MethodPost}, authz.RequireFields("productId", "quantity").
					WithMessage("productId and quantity are required to create a batch")),
				authz.HasPermissions(permissionInventoryWrite),
			},
		},
		{
			Name:    "productos",
			Pattern: "/api/productos",
			Backend: config.BackendInventario,
		},

		// 取引サービス
		{
			Name:    "purchases-by-person",
			Pattern: "/api/purchases/person/:rut",
			Backend: config.BackendTransacciones,
			Predicates: []authz.Predicate{
				authz.SelfRUT("rut", roleSupervisor, roleAdmin),
				purchaseMutations(),
			},
		},
		{
			Name:    "purchases-by-date",
			Pattern: "/api/purchases/date-range",
			Backend: config.BackendTransacciones,
			Predicates: []authz.Predicate{
				authz.ValidDateRange("startDate", "endDate"),
				purchaseMutations(),
			},
		},
		{
			Name:       "purchases",
			Pattern:    "/api/purchases",
			Backend:    config.BackendTransacciones,
			Predicates: []authz.Predicate{purchaseMutations()},
		},
		{
			Name:    "sales-by-person",
			Pattern: "/api/sales/person/:rut",
			Backend: config.BackendTransacciones,
			Predicates: []authz.Predicate{
				authz.SelfRUT("rut", roleSupervisor, roleAdmin),
				salesMutations(),
			},
		},
		{
			Name:    "sales-by-date",
			Pattern: "/api/sales/date-range",
			Backend: config.BackendTransacciones,
			Predicates: []authz.Predicate{
				authz.ValidDateRange("startDate", "endDate"),
				salesMutations(),
			},
		},
		{
			Name:       "sales",
			Pattern:    "/api/sales",
			Backend:    config.BackendTransacciones,
			Predicates: []authz.Predicate{salesMutations()},
		},
	}
}

// purchaseMutations は購買の変更系リクエストに必要なロールを要求する。
func purchaseMutations() authz.Predicate {
	return authz.OnMutations(authz.HasAnyRole(roleBuyer, roleSupervisor, roleAdmin).
		WithMessage("Buyer, supervisor or admin role required to modify purchases"))
}

// salesMutations は販売の変更系リクエストに必要なロールを要求する。
func salesMutations() authz.Predicate {
	return authz.OnMutations(authz.HasAnyRole(roleSeller, roleSupervisor, roleAdmin).
		WithMessage("Seller, supervisor or admin role required to modify sales"))
}
