package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether RNC_FRONT_ENV selects development mode.
// Development mode drops the Secure flag on cookies so the app works over plain http.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("RNC_FRONT_ENV"))
	return env == "development" || env == "dev"
}
