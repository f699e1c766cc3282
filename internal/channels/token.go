// Package channels manages push-notification subscriptions: signing the
// per-channel token that authenticates inbound notifications, issuing and
// cancelling watch channels, and re-establishing the full channel set.
package channels

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// FileType classifies what a channel token watches. Folder tokens authorize
// children diffing; file tokens only deletion handling.
const (
	FileTypeFile   = "file"
	FileTypeFolder = "folder"
)

// Token is the verified payload carried by a channel token.
type Token struct {
	FileID   string `json:"fileId"`
	FileType string `json:"fileType"`
}

// TokenCodec signs and verifies channel tokens with a shared HMAC secret.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec creates a codec over the given secret.
func NewTokenCodec(secret []byte) *TokenCodec {
	return &TokenCodec{secret: secret}
}

// Sign produces a signed token embedding the file id and type.
func (c *TokenCodec) Sign(fileID, fileType string) (string, error) {
	claims := jwt.MapClaims{
		"fileId":   fileID,
		"fileType": fileType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("channels: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string. Any failure, a bad signature,
// a foreign signing method, or missing claims, yields nil: notifications
// bearing such tokens are dropped, never trusted.
func (c *TokenCodec) Verify(tokenString string) *Token {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	fileID, _ := claims["fileId"].(string)
	fileType, _ := claims["fileType"].(string)
	if fileID == "" || (fileType != FileTypeFile && fileType != FileTypeFolder) {
		return nil
	}
	return &Token{FileID: fileID, FileType: fileType}
}
