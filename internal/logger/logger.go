package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const prodEnv = "prod"

// New 构造带 service/env 字段的 logrus 日志；生产环境输出 JSON，便于采集
func New(service string) *logrus.Entry {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	if env == prodEnv {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l.WithFields(logrus.Fields{"service": service, "env": env})
}

func parseLevel(raw string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
