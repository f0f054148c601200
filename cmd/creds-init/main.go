package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/futbot/gofut/pkg/secretstore"
)

// 把交易所 API 凭据写入加密密钥库。worker 只读，凭据通过本工具导入：
//
//	GOFUT_API_KEY=... GOFUT_API_SECRET=... \
//	  creds-init -venue binance -account main -db data/secrets
func main() {
	_ = godotenv.Load()

	var (
		venue      = flag.String("venue", "", "交易所名称（binance/bybit/okx）")
		account    = flag.String("account", "main", "账户标识")
		dbPath     = flag.String("db", getenv("GOFUT_SECRET_DB", "data/secrets"), "密钥库路径")
		masterKey  = flag.String("master-key", getenv("GOFUT_MASTER_KEY", ""), "密钥库加密主密钥（32 字节 base64/hex）")
		apiKey     = flag.String("api-key", getenv("GOFUT_API_KEY", ""), "API Key")
		apiSecret  = flag.String("api-secret", getenv("GOFUT_API_SECRET", ""), "API Secret")
		passphrase = flag.String("passphrase", getenv("GOFUT_API_PASSPHRASE", ""), "API Passphrase（OKX 系交易所）")
	)
	flag.Parse()

	if strings.TrimSpace(*venue) == "" {
		fatal(fmt.Errorf("必须指定 -venue"))
	}
	if strings.TrimSpace(*apiKey) == "" || strings.TrimSpace(*apiSecret) == "" {
		fatal(fmt.Errorf("必须提供 API Key 与 Secret：设置 GOFUT_API_KEY/GOFUT_API_SECRET 或传 -api-key/-api-secret"))
	}

	keyBytes, err := secretstore.ParseKey(*masterKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("必须提供加密主密钥：设置 GOFUT_MASTER_KEY 或传 -master-key"))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	err = ss.SetCredentials(*venue, *account, &secretstore.Credentials{
		APIKey:     strings.TrimSpace(*apiKey),
		APISecret:  strings.TrimSpace(*apiSecret),
		Passphrase: strings.TrimSpace(*passphrase),
	})
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stderr, "已写入 %s/%s 的凭据到 %s\n", *venue, *account, *dbPath)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
