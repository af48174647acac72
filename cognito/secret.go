package cognito

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SecretHash computes the SECRET_HASH parameter for app clients with a
// secret. It returns "" when clientSecret is empty.
func SecretHash(username, clientID, clientSecret string) string {
	if clientSecret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PoolName returns the part of a user pool id after the region prefix.
func PoolName(userPoolID string) string {
	if idx := strings.Index(userPoolID, "_"); idx >= 0 {
		return userPoolID[idx+1:]
	}
	return userPoolID
}

// ProviderName returns the identity pool login key for a user pool.
func ProviderName(region, userPoolID string) string {
	return "cognito-idp." + region + ".amazonaws.com/" + userPoolID
}

// RegionFromPoolID extracts the region prefix from a pool id.
func RegionFromPoolID(poolID string) string {
	if idx := strings.Index(poolID, "_"); idx > 0 {
		return poolID[:idx]
	}
	if idx := strings.Index(poolID, ":"); idx > 0 {
		return poolID[:idx]
	}
	return ""
}
