package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// ClientContext is the request fingerprint a session gets bound to at
// issuance. A refresh presented from a different fingerprint is treated as
// token theft.
type ClientContext struct {
	IP        string
	UserAgent string
}

func ClientContextFromRequest(r *http.Request) ClientContext {
	return ClientContext{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
}

// HashClientContext folds a server-side pepper into the digest so a leaked
// store cannot be used to forge matching fingerprints offline.
func HashClientContext(ctx ClientContext, pepper string) string {
	h := sha256.New()
	h.Write([]byte(ctx.IP))
	h.Write([]byte{0})
	h.Write([]byte(ctx.UserAgent))
	h.Write([]byte{0})
	h.Write([]byte(pepper))
	return hex.EncodeToString(h.Sum(nil))
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
