package worker

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// requestClaims binds a dispatched request to the pool instance that
// issued it and the bubble spec it targets, so a compromised or
// mis-wired daemon cannot be fed requests intended for a different
// activation (spec Section 4.6: "[ADDED] Request authentication").
type requestClaims struct {
	jwt.RegisteredClaims
	PoolInstanceID string `json:"pool_instance_id"`
	BubbleSpec     string `json:"bubble_spec"`
}

const requestTokenTTL = 30 * time.Second

// signRequest mints a short-lived HS256 token for one dispatched
// request.
func signRequest(signingKey []byte, poolInstanceID, bubbleSpec string) (string, error) {
	now := time.Now().UTC()
	claims := requestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(requestTokenTTL)),
			Issuer:    "bub-worker-pool",
		},
		PoolInstanceID: poolInstanceID,
		BubbleSpec:     bubbleSpec,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}

// verifyRequestToken checks a token minted by signRequest against
// poolInstanceID and bubbleSpec, used by a daemon-side implementation
// to reject requests bound to a different pool instance or bubble.
func verifyRequestToken(signingKey []byte, tokenString, poolInstanceID, bubbleSpec string) (bool, error) {
	token, err := jwt.ParseWithClaims(tokenString, &requestClaims{}, func(t *jwt.Token) (any, error) {
		return signingKey, nil
	})
	if err != nil {
		return false, err
	}
	claims, ok := token.Claims.(*requestClaims)
	if !ok || !token.Valid {
		return false, nil
	}
	return claims.PoolInstanceID == poolInstanceID && claims.BubbleSpec == bubbleSpec, nil
}
