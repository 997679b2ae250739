package envconfig

import (
	"log/slog"
	"strconv"
)

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(s)
}

func parseUint(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func logInvalid(key, value string, fallback any) {
	slog.Warn("invalid environment variable, using default", "key", key, "value", value, "default", fallback)
}
