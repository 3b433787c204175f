package fetch

import (
	"context"
	"net/http"
	"time"
)

func withTimeout(req *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), timeout)
}
