package config

import (
	"os"
	"strconv"
	"time"
)

// BankConfig carries the bank's own identity and the knobs of the transfer
// authorization flow.
type BankConfig struct {
	BIC             string
	BranchCode      string
	CountryCode     string
	ReferencePrefix string
	OTPLength       int
	OTPTimeout      time.Duration
	PINLength       int
}

func LoadBankConfig() *BankConfig {
	return &BankConfig{
		BIC:             getEnv("BANK_BIC", "CRBKBGSF"),
		BranchCode:      getEnv("BANK_BRANCH_CODE", "8280"),
		CountryCode:     getEnv("BANK_COUNTRY_CODE", "BG"),
		ReferencePrefix: getEnv("BANK_REFERENCE_PREFIX", "FT"),
		OTPLength:       getEnvAsInt("TRANSFER_OTP_LENGTH", 6),
		OTPTimeout:      getEnvAsDuration("TRANSFER_OTP_TIMEOUT", 10*time.Minute),
		PINLength:       getEnvAsInt("TRANSFER_PIN_LENGTH", 4),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
