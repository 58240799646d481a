// 開発用アクセストークンの発行ツール。
// ゲートウェイと同じ設定(.env、GATEWAY_CONFIG、環境変数)からJWT_SECRETを読み、
// 指定したプロファイルのIdentityに署名したトークンを標準出力に書き出す。
// 本番のトークン発行はユーザーサービスの責務であり、このツールはローカル検証専用。
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nao1215/gpsgateway/internal/config"
	"github.com/nao1215/gpsgateway/internal/identity"
)

// profile は発行するIdentityの雛形。
type profile struct {
	id    string
	email string
	rut   string
	roles []identity.Role
}

var profiles = map[string]profile{
	"admin": {
		id: "1", email: "admin@example.com", rut: "11111111-1",
		roles: []identity.Role{identity.NewRole("admin", "USER_READ", "USER_WRITE", "INVENTORY_READ", "INVENTORY_WRITE")},
	},
	"user": {
		id: "2", email: "user@example.com", rut: "22222222-2",
		roles: []identity.Role{identity.NewRole("user", "INVENTORY_READ")},
	},
	"buyer": {
		id: "3", email: "buyer@example.com", rut: "33333333-3",
		roles: []identity.Role{identity.NewRole("buyer", "PURCHASE_READ", "PURCHASE_WRITE")},
	},
	"seller": {
		id: "4", email: "seller@example.com", rut: "44444444-4",
		roles: []identity.Role{identity.NewRole("seller", "SALES_READ", "SALES_WRITE")},
	},
	"supervisor": {
		id: "5", email: "supervisor@example.com", rut: "55555555-5",
		roles: []identity.Role{identity.NewRole("supervisor", "INVENTORY_READ", "INVENTORY_WRITE")},
	},
}

func main() {
	name := flag.String("profile", "user", "発行するプロファイル ("+profileNames()+")")
	subject := flag.String("id", "", "ユーザーIDを上書きする")
	rut := flag.String("rut", "", "RUTを上書きする")
	ttl := flag.Duration("ttl", time.Hour, "トークンの有効期間")
	flag.Parse()

	p, ok := profiles[*name]
	if !ok {
		logrus.Fatalf("未知のプロファイル: %s (%s)", *name, profileNames())
	}
	if *subject != "" {
		p.id = *subject
	}
	if *rut != "" {
		p.rut = *rut
	}

	secret, dev, err := config.LoadSecret(config.Options{
		EnvFile:    ".env",
		ConfigFile: os.Getenv(config.EnvConfigFile),
	})
	if err != nil {
		logrus.WithError(err).Fatal("設定の読み込みに失敗")
	}
	if dev {
		logrus.Warn("開発用シークレットで署名します")
	}

	token, err := identity.Sign(secret, identity.New(p.id, p.email, p.rut, p.roles...), *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("トークンの発行に失敗")
	}
	fmt.Fprintln(os.Stdout, token)
}

// profileNames はプロファイル名を並べた文字列を返す。
func profileNames() string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
