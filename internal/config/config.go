// Package config はゲートウェイの設定を読み込む。
//
// 優先度の低い順に次の層を重ねる。
//  1. 組み込みのデフォルト値
//  2. .envファイル（存在しなくてもよい）
//  3. GATEWAY_CONFIGで指定したYAMLファイル
//  4. プロセスの環境変数
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// EnvConfigFile はYAML設定ファイルのパスを指定する環境変数。
const EnvConfigFile = "GATEWAY_CONFIG"

// DevSecret はJWT_SECRET未設定時に使う開発用シークレット。
const DevSecret = "dev-secret-key"

// バックエンドID。ルートテーブルはこのIDでバックエンドを参照する。
const (
	BackendUsuarios      = "usuarios"
	BackendInventario    = "inventario"
	BackendTransacciones = "transacciones"
)

// Config はゲートウェイの設定値。
type Config struct {
	// Port は待ち受けポート。
	Port int `koanf:"port"`
	// JWTSecret はアクセストークンの署名検証に使う共有シークレット。
	JWTSecret string `koanf:"jwt_secret"`
	// UsuariosURL はユーザーサービスのベースURL。
	UsuariosURL string `koanf:"usuarios_url"`
	// InventarioURL は在庫サービスのベースURL。
	InventarioURL string `koanf:"inventario_url"`
	// TransaccionesURL は取引サービスのベースURL。
	TransaccionesURL string `koanf:"transacciones_url"`
	// RequestTimeout はバックエンドへの転送1回あたりの制限時間。
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// PublicRoutes は認証不要のパス。
	PublicRoutes []string `koanf:"public_routes"`
	// CORSOrigins はCORSで許可するオリジン。"*"は全て許可。
	CORSOrigins []string `koanf:"cors_origins"`
	// GatewaySource はX-Gateway-Sourceヘッダーに設定する値。
	GatewaySource string `koanf:"gateway_source"`
	// MaxBodyBytes は認可のために読み込むリクエストボディの上限。
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// AccessLogPath はアクセスログのSQLiteファイル。空の場合は記録しない。
	AccessLogPath string `koanf:"access_log_path"`
	// TracingEnabled はOpenTelemetryトレースを有効にするかどうか。
	TracingEnabled bool `koanf:"tracing_enabled"`
	// LogLevel はlogrusのログレベル。
	LogLevel string `koanf:"log_level"`
	// LogFormat は "json" または "text"。
	LogFormat string `koanf:"log_format"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// UsingDevSecret はJWT_SECRETが未設定で開発用シークレットを使っていることを示す。
	UsingDevSecret bool
}

// defaults は組み込みのデフォルト値。
var defaults = map[string]any{
	"port":              3000,
	"jwt_secret":        "",
	"usuarios_url":      "",
	"inventario_url":    "",
	"transacciones_url": "",
	"request_timeout":   "30s",
	"public_routes":     []string{"/health", "/usuarios/login", "/usuarios/register"},
	"cors_origins":      []string{"*"},
	"gateway_source":    "gps-gateway",
	"max_body_bytes":    1 << 20,
	"access_log_path":   "",
	"tracing_enabled":   false,
	"log_level":         "info",
	"log_format":        "json",
	"shutdown_timeout":  "10s",
}

// Options はLoadWithの読み込み元を指定する。
type Options struct {
	// EnvFile は読み込む.envファイル。空の場合は読み込まない。
	EnvFile string
	// ConfigFile はYAML設定ファイル。空の場合は読み込まない。
	ConfigFile string
}

// Load はカレントディレクトリの.envとGATEWAY_CONFIGを使って設定を読み込む。
func Load() (*Config, error) {
	return LoadWith(Options{EnvFile: ".env", ConfigFile: os.Getenv(EnvConfigFile)})
}

// LoadWith は指定した読み込み元から設定を読み込み、検証する。
func LoadWith(opts Options) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSecret はLoadWithと同じ読み込み元からJWT署名シークレットだけを読み込む。
// バックエンドURLなどの検証は行わない。未設定の場合は開発用シークレットとtrueを返す。
func LoadSecret(opts Options) (string, bool, error) {
	cfg, err := load(opts)
	if err != nil {
		return "", false, err
	}
	return cfg.JWTSecret, cfg.UsingDevSecret, nil
}

// load は全ての層を重ねて検証前の設定を返す。
func load(opts Options) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("デフォルト値 %s の設定に失敗: %w", key, err)
		}
	}

	if opts.EnvFile != "" {
		if err := loadDotEnv(k, opts.EnvFile); err != nil {
			return nil, err
		}
	}

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", opts.ConfigFile, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	cfg.PublicRoutes = cleanList(cfg.PublicRoutes)
	cfg.CORSOrigins = cleanList(cfg.CORSOrigins)

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DevSecret
		cfg.UsingDevSecret = true
	}
	return &cfg, nil
}

// loadDotEnv は.envファイルの既知のキーをkに重ねる。プロセスの環境変数は変更しない。
func loadDotEnv(k *koanf.Koanf, path string) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf(".envファイル %s の読み込みに失敗: %w", path, err)
	}
	for name, raw := range values {
		key, value := envValue(name, raw)
		if key == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf(".envの値 %s の設定に失敗: %w", name, err)
		}
	}
	return nil
}

// envKey は既知の設定キーに対応する環境変数だけを小文字のキーに変換する。
func envKey(s string) string {
	key := strings.ToLower(s)
	if _, ok := defaults[key]; !ok {
		return ""
	}
	return key
}

// listKeys は環境変数ではカンマ区切りで指定する一覧の設定キー。
var listKeys = map[string]struct{}{
	"public_routes": {},
	"cors_origins":  {},
}

// envValue は環境変数を設定キーと値に変換する。一覧のキーはカンマで分割する。
// 未知の環境変数は空のキーを返して読み飛ばす。
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if key == "" {
		return "", nil
	}
	if _, ok := listKeys[key]; ok {
		return key, strings.Split(value, ",")
	}
	return key, value
}

// cleanList は前後の空白を除き、空要素を取り除く。
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate は設定値を検証し、不正なキーを名指しするエラーを返す。
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port: 範囲外の値です: %d", c.Port)
	}
	for key, raw := range map[string]string{
		"usuarios_url":      c.UsuariosURL,
		"inventario_url":    c.InventarioURL,
		"transacciones_url": c.TransaccionesURL,
	} {
		if err := validateBaseURL(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout: 正の値が必要です: %s", c.RequestTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout: 正の値が必要です: %s", c.ShutdownTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes: 正の値が必要です: %d", c.MaxBodyBytes)
	}
	for _, p := range c.PublicRoutes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("public_routes: パスは/で始まる必要があります: %q", p)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format: json または text を指定してください: %q", c.LogFormat)
	}
	return nil
}

// validateBaseURL はバックエンドのベースURLが絶対http(s) URLであることを確認する。
func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("必須の設定です")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URLの解析に失敗: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("http(s)の絶対URLが必要です: %q", raw)
	}
	return nil
}

// BackendURLs はバックエンドIDからベースURLへの対応を返す。
func (c *Config) BackendURLs() map[string]string {
	return map[string]string{
		BackendUsuarios:      c.UsuariosURL,
		BackendInventario:    c.InventarioURL,
		BackendTransacciones: c.TransaccionesURL,
	}
}

// NewLogger は設定に従ってlogrusのロガーを生成する。
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
