package bridge

import (
	"fmt"
	"net/http"

	"mcpgate/pkg/logging"
)

// allowedHosts returns the Host header values accepted for port.
func allowedHosts(port int) map[string]bool {
	return map[string]bool{
		fmt.Sprintf("localhost:%d", port): true,
		fmt.Sprintf("127.0.0.1:%d", port): true,
	}
}

// loopbackOnly refuses any request whose Host header is not exactly one of
// the loopback forms for the listening port.
func loopbackOnly(port int, next http.Handler) http.Handler {
	allowed := allowedHosts(port)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowed[r.Host] {
			logging.Warn("Bridge", "Refused request with host %q from %s", r.Host, r.RemoteAddr)
			logging.Audit(logging.AuditEvent{
				Action:  "admit",
				Outcome: "failure",
				Target:  r.Host,
				Reason:  "host is not a loopback address for this bridge",
			})
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
