package logger

import "os"

func envLevel() string {
	return os.Getenv("LOG_LEVEL")
}
