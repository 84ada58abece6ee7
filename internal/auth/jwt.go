// Package auth implements the two JWT families the system issues and
// verifies — APNS provider tokens and per-client capability tokens — plus
// the pure secret-rotation state machine that drives client re-keying.
package auth

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrBadSecretFormat is returned when a client secret is not valid hex.
	ErrBadSecretFormat = errors.New("auth: secret is not valid hex")
	// ErrSignatureInvalid is returned when a client token's signature
	// matches neither the current nor the prior secret.
	ErrSignatureInvalid = errors.New("auth: signature invalid for both current and last secret")
)

type registeredClaims = jwt.RegisteredClaims

// ParseAPNSKey decodes a PKCS8-encoded EC private key, as delivered by
// Apple for APNS provider authentication.
func ParseAPNSKey(pkcs8PEM string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pkcs8PEM))
	if block == nil {
		return nil, fmt.Errorf("auth: no PEM block found in APNS key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse PKCS8 key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: APNS key is not an EC private key")
	}
	return ecKey, nil
}

// IssueAPNSToken mints an ES256 provider token: header {alg, kid}, claims
// {iss=teamID, iat=now}. Apple accepts the same token for roughly an hour;
// callers are expected to cache and reissue on their own schedule.
func IssueAPNSToken(key *ecdsa.PrivateKey, teamID, keyID string, now time.Time) (string, error) {
	claims := registeredClaims{
		Issuer:   teamID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(key)
}

// IssueClientToken mints an HS256 token for a mobile client, signed with
// the raw bytes of its hex-decoded current secret. Claims are {iss=clientID,
// iat=now}.
func IssueClientToken(clientID, secretHex string, now time.Time) (string, error) {
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", ErrBadSecretFormat
	}
	claims := registeredClaims{
		Issuer:   clientID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// VerifyClientToken checks a client JWT against the stored current secret,
// falling back to lastSecret on signature failure. It reports which
// secret matched — callers use this to decide whether a rotation
// acknowledgment is implied — and returns the claimed clientID.
//
// Any verification failure other than a bad signature (malformed token,
// wrong algorithm) is returned immediately without trying lastSecret.
func VerifyClientToken(tokenString, currentSecretHex, lastSecretHex string) (clientID string, usedLastSecret bool, err error) {
	clientID, err = verifyWithSecret(tokenString, currentSecretHex)
	if err == nil {
		return clientID, false, nil
	}
	if !errors.Is(err, jwt.ErrSignatureInvalid) {
		return "", false, err
	}

	clientID, err = verifyWithSecret(tokenString, lastSecretHex)
	if err == nil {
		return clientID, true, nil
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return "", false, ErrSignatureInvalid
	}
	return "", false, err
}

func verifyWithSecret(tokenString, secretHex string) (string, error) {
	key, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", ErrBadSecretFormat
	}

	var claims registeredClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	return claims.Issuer, nil
}
