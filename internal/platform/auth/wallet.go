package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrWalletProof = errors.New("wallet proof rejected")

// WalletClaims is what the wallet bridge signs after the user approves the
// connection in their wallet app.
type WalletClaims struct {
	jwt.RegisteredClaims
	Address  string `json:"address"`
	Provider string `json:"provider"`
	Session  string `json:"sid"`
}

// WalletAccount is the opaque external account reference plus the provider
// that produced it.
type WalletAccount struct {
	Address  string
	Provider string
}

// WalletVerifier checks wallet-bridge proofs. It never talks to a wallet
// itself; the address is taken verbatim from the verified token.
type WalletVerifier struct {
	key    []byte
	issuer string
}

func NewWalletVerifier(signingKey []byte, issuer string) *WalletVerifier {
	return &WalletVerifier{key: signingKey, issuer: issuer}
}

// Verify validates proof and returns the account it binds to sessionID.
func (v *WalletVerifier) Verify(_ context.Context, sessionID, proof string) (WalletAccount, error) {
	claims := &WalletClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(proof, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil || !token.Valid {
		return WalletAccount{}, fmt.Errorf("%w: %v", ErrWalletProof, err)
	}
	if claims.Session != sessionID {
		return WalletAccount{}, fmt.Errorf("%w: proof was issued for another session", ErrWalletProof)
	}
	if strings.TrimSpace(claims.Address) == "" {
		return WalletAccount{}, fmt.Errorf("%w: no address", ErrWalletProof)
	}
	return WalletAccount{Address: claims.Address, Provider: claims.Provider}, nil
}

// SignProof produces a proof the way the wallet bridge does. Used by tests
// and local tooling.
func (v *WalletVerifier) SignProof(claims WalletClaims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}
