package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/crypto"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// Caller returns the verified identity attached by Signed.
func Caller(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// WithCaller attaches caller to ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	if slot, ok := ctx.Value(callerSlotKey{}).(*string); ok {
		*slot = caller.Hex()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

// Signed verifies the EIP-712 signature on every mutating request and
// attaches the recovered caller to the request context. Safe methods pass
// through without a caller.
func Signed(v *crypto.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			callerHex := r.Header.Get(crypto.HeaderCaller)
			tsRaw := r.Header.Get(crypto.HeaderTimestamp)
			sig := r.Header.Get(crypto.HeaderSignature)
			if !common.IsHexAddress(callerHex) || tsRaw == "" || sig == "" {
				writeError(w, http.StatusUnauthorized, "missing request signature")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid request timestamp")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := crypto.AdminRequest{
				Caller:    common.HexToAddress(callerHex),
				Method:    r.Method,
				Path:      r.URL.Path,
				BodyHash:  crypto.BodyHash(body),
				Timestamp: ts,
			}
			if err := v.Verify(req, sig); err != nil {
				writeError(w, http.StatusUnauthorized, "signature rejected")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), req.Caller)))
		})
	}
}
