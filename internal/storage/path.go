package storage

import (
	"strings"

	"github.com/google/uuid"
)

// ProfilePictureKey returns the object key for a user's profile picture.
// Every upload for the same user and extension lands on the same key.
//
// Example:
//
//	userID: 3f1c...e2, ext: "PNG"
//	result: "3f1c...e2.png"
func ProfilePictureKey(userID uuid.UUID, ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return userID.String()
	}
	return userID.String() + "." + ext
}

// EndpointURL adds a scheme to a bare host:port endpoint. Endpoints that
// already carry a scheme are returned unchanged apart from trailing slashes.
func EndpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// PublicURL builds the path-style URL of an object.
//
// Example:
//
//	endpoint: "http://localhost:9000", bucket: "avatars", key: "u.png"
//	result: "http://localhost:9000/avatars/u.png"
func PublicURL(endpoint, bucket, key string) string {
	return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}
