// Package auth provides bearer-token verification for operator endpoints.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"shipsync/internal/config"
)

// Verifier validates bearer tokens and extracts the caller's role.
// Modes: dev (token is "subject:role", no verification) and hmac (HS256 JWT
// verified with the shared secret).
type Verifier struct {
	Mode   string
	Secret []byte
}

type Principal struct {
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool    { return p.Role == "admin" }
func (p Principal) IsOperator() bool { return p.Role == "admin" || p.Role == "operator" }

func NewVerifier(cfg config.AuthConfig) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{Mode: mode, Secret: []byte(cfg.Secret)}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		// token format: subject:role
		parts := strings.Split(token, ":")
		if len(parts) >= 2 {
			return Principal{Subject: parts[0], Role: strings.ToLower(parts[1])}, nil
		}
		return Principal{}, errors.New("invalid dev token; expected subject:role")
	}
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, errors.New("invalid JWT")
	}
	payloadJSON, err := b64urlDecode(segs[1])
	if err != nil {
		return Principal{}, err
	}
	sig, err := b64urlDecode(segs[2])
	if err != nil {
		return Principal{}, err
	}
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, errors.New("bad signature")
	}
	var claims struct {
		Sub  string `json:"sub"`
		Role string `json:"role"`
		Exp  int64  `json:"exp"`
	}
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Principal{}, err
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return Principal{}, errors.New("token expired")
	}
	role := claims.Role
	if role == "" {
		role = "user"
	}
	return Principal{Subject: claims.Sub, Role: strings.ToLower(role)}, nil
}

func b64urlDecode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
