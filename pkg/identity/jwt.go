package identity

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures networkless session token verification. Exactly one
// of PublicKeyPEM or HMACSecret must be set.
type JWTConfig struct {
	PublicKeyPEM      string
	HMACSecret        string
	Issuer            string
	AuthorizedParties []string
	Leeway            time.Duration
}

// JWTVerifier verifies provider session tokens offline
type JWTVerifier struct {
	parser            *jwt.Parser
	key               interface{}
	authorizedParties map[string]struct{}
}

// NewJWTVerifier parses the configured key and builds the verifier
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	var (
		key     interface{}
		methods []string
	)
	switch {
	case cfg.PublicKeyPEM != "":
		pub, err := parseRSAPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		key = pub
		methods = []string{"RS256", "RS384", "RS512"}
	case cfg.HMACSecret != "":
		key = []byte(cfg.HMACSecret)
		methods = []string{"HS256"}
	default:
		return nil, fmt.Errorf("jwt verifier requires a public key or an HMAC secret")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	v := &JWTVerifier{
		parser: jwt.NewParser(opts...),
		key:    key,
	}
	if len(cfg.AuthorizedParties) > 0 {
		v.authorizedParties = make(map[string]struct{}, len(cfg.AuthorizedParties))
		for _, p := range cfg.AuthorizedParties {
			v.authorizedParties[p] = struct{}{}
		}
	}
	return v, nil
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("invalid RSA public key: %w", err)
	}
	return pub, nil
}

// VerifyToken checks signature, exp/nbf, issuer and authorized party
func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (*Principal, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	if v.authorizedParties != nil {
		azp, _ := claims["azp"].(string)
		if _, ok := v.authorizedParties[azp]; !ok {
			return nil, fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, azp)
		}
	}

	return principalFromClaims(sub, claims), nil
}

func principalFromClaims(sub string, claims jwt.MapClaims) *Principal {
	p := &Principal{
		Subject: sub,
		Claims:  map[string]interface{}(claims),
	}
	p.SessionID, _ = claims["sid"].(string)
	p.Email, _ = claims["email"].(string)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		p.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p
}
