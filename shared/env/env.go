package env

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	TelegramBotToken  string
	TelegramOpsChatID int64

	HeliusAPIKey string
	HeliusRPCURL string

	DiscordBotToken  string
	DiscordChannelID string

	ClickHouseDSN string

	Port string

	PGHOST     string
	PGPORT     string
	PGUSER     string
	PGPASSWORD string
	PGDATABASE string

	DATABASE_URL string
)

var hiddenKeys = map[string]bool{
	"TELEGRAM_BOT_TOKEN": true,
	"HELIUS_API_KEY":     true,
	"HELIUS_RPC_URL":     true,
	"DISCORD_BOT_TOKEN":  true,
	"PGPASSWORD":         true,
	"DATABASE_URL":       true,
	"CLICKHOUSE_DSN":     true,
}

func loadEnvVariable(key string) string {
	value := os.Getenv(key)
	switch {
	case value == "":
		log.Printf("INFO: Environment variable %s is not set.", key)
	case hiddenKeys[key]:
		log.Printf("INFO: Loaded %s (value hidden)", key)
	default:
		log.Printf("INFO: Loaded %s = %s", key, value)
	}
	return value
}

func loadInt64Env(key string) (int64, error) {
	strValue := loadEnvVariable(key)
	if strValue == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int64 environment variable %s='%s': %w", key, strValue, err)
	}
	return id, nil
}

// LoadEnv reads .env (when present) and the process environment. Only the
// database location is required; every other integration is optional.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: .env file not found or error loading, relying on system environment variables.")
	} else {
		log.Println("INFO: .env file loaded successfully.")
	}

	TelegramBotToken = loadEnvVariable("TELEGRAM_BOT_TOKEN")
	opsChat, err := loadInt64Env("TELEGRAM_OPS_CHAT_ID")
	if err != nil {
		return err
	}
	TelegramOpsChatID = opsChat

	HeliusAPIKey = loadEnvVariable("HELIUS_API_KEY")
	HeliusRPCURL = loadEnvVariable("HELIUS_RPC_URL")

	DiscordBotToken = loadEnvVariable("DISCORD_BOT_TOKEN")
	DiscordChannelID = loadEnvVariable("DISCORD_CHANNEL_ID")

	ClickHouseDSN = loadEnvVariable("CLICKHOUSE_DSN")

	Port = loadEnvVariable("PORT")

	DATABASE_URL = loadEnvVariable("DATABASE_URL")
	PGHOST = loadEnvVariable("PGHOST")
	PGPORT = loadEnvVariable("PGPORT")
	PGUSER = loadEnvVariable("PGUSER")
	PGPASSWORD = loadEnvVariable("PGPASSWORD")
	PGDATABASE = loadEnvVariable("PGDATABASE")

	if DATABASE_URL == "" && (PGHOST == "" || PGUSER == "" || PGDATABASE == "") {
		return fmt.Errorf("DATABASE_URL or PGHOST, PGUSER and PGDATABASE must be set")
	}
	if TelegramBotToken == "" {
		log.Println("WARN: TELEGRAM_BOT_TOKEN is not set. Alerts will be stored but not delivered.")
	}
	if HeliusAPIKey == "" && HeliusRPCURL == "" {
		log.Println("WARN: Neither HELIUS_API_KEY nor HELIUS_RPC_URL is set. The chain scanner is disabled.")
	}
	if TelegramBotToken != "" && TelegramOpsChatID == 0 {
		log.Println("WARN: TELEGRAM_OPS_CHAT_ID is not set. Warnings will only be logged locally.")
	}

	log.Println("INFO: Environment variables loading process complete.")
	return nil
}

// DatabaseDSN prefers DATABASE_URL and otherwise assembles a DSN from the
// PG* parts, defaulting the port to 5432.
func DatabaseDSN() string {
	if DATABASE_URL != "" {
		return DATABASE_URL
	}
	port := PGPORT
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", PGUSER, PGPASSWORD, PGHOST, port, PGDATABASE)
}
