package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

const signatureHeader = "X-Signature"

// SignatureMiddleware проверяет HMAC-SHA256 подпись тела запроса,
// которую платёжный провайдер передаёт в заголовке X-Signature.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт новый экземпляр SignatureMiddleware с указанным
// секретным ключом. Пустой ключ отключает проверку подписи.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	return &SignatureMiddleware{secretKey: []byte(secret)}
}

// Middleware сверяет подпись тела запроса и отклоняет запрос при несовпадении.
// Тело остаётся доступным следующему обработчику.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secretKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if !s.verify(body, r.Header.Get(signatureHeader)) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Sign возвращает hex-подпись тела, пригодную для заголовка X-Signature.
func (s *SignatureMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *SignatureMiddleware) verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
