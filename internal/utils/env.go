package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SafeEnv returns the environment variable value for key, or fallback if empty.
func SafeEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func EnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(SafeEnv(key, "")); err == nil {
		return n
	}
	return fallback
}

func EnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(SafeEnv(key, "")); err == nil {
		return b
	}
	return fallback
}

func EnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(SafeEnv(key, "")); err == nil {
		return d
	}
	return fallback
}

// EnvCSV splits a comma separated value, dropping empty entries.
func EnvCSV(key string, fallback []string) []string {
	raw := SafeEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
