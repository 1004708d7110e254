package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token purposes. The OAuth state and the correction-form token share the
// claims shape; the purpose keeps one from standing in for the other.
const (
	purposeState      = "oauth_state"
	purposeCorrection = "correction"
)

type claims struct {
	UserID  string `json:"user_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

func (a *API) signToken(userID, purpose string, ttl time.Duration) (string, error) {
	c := &claims{
		UserID:  userID,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(a.jwtSecret)
}

func (a *API) verifyToken(tokenString, purpose string) (string, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if c.Purpose != purpose {
		return "", fmt.Errorf("invalid token")
	}
	return c.UserID, nil
}

// AuthURL builds the authorization link handed to a user in chat. The
// user's identity rides in the signed state and comes back on the
// callback.
func (a *API) AuthURL(userID string) (string, error) {
	state, err := a.signToken(userID, purposeState, 15*time.Minute)
	if err != nil {
		return "", err
	}
	return a.oauthConfig.AuthCodeURL(state), nil
}

// CorrectionURL builds the link to the web form for editing the pending
// receipt.
func (a *API) CorrectionURL(userID string) (string, error) {
	token, err := a.signToken(userID, purposeCorrection, 30*time.Minute)
	if err != nil {
		return "", err
	}
	return a.config.WebUIBaseURL + "/correct?token=" + url.QueryEscape(token), nil
}
