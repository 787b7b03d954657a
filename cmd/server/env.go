package main

import (
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// loadDotEnv reads .env files when present. Variables already set win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// newLogger writes to stdout and, when VS_LOG_FILE is set, to a size-rotated file.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stdout
	if path := strings.TrimSpace(os.Getenv("VS_LOG_FILE")); path != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    envInt("VS_LOG_MAX_MB", 64),
			MaxBackups: envInt("VS_LOG_BACKUPS", 5),
			MaxAge:     envInt("VS_LOG_MAX_AGE_DAYS", 14),
			Compress:   true,
		})
	}
	return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
