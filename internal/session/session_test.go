package session

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTokenFromAuthorizationHeader(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/ws/doc1", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")

	assert.Equal(t, "abc.def.ghi", extractToken(r))
}

func TestExtractTokenFromSubprotocol(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/ws/doc1", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "auth."+base64.RawURLEncoding.EncodeToString([]byte("abc.def.ghi"))+", other")

	assert.Equal(t, "abc.def.ghi", extractToken(r))
}

func TestExtractTokenMissingReturnsEmpty(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/ws/doc1", nil)
	assert.Equal(t, "", extractToken(r))
}

func TestSanitizeDocumentIDAcceptsValidID(t *testing.T) {
	assert.Equal(t, "doc_1-A", SanitizeDocumentID("doc_1-A"))
}

func TestSanitizeDocumentIDCoercesInvalidCharacters(t *testing.T) {
	assert.Equal(t, "default", SanitizeDocumentID("bad@id"))
}

func TestSanitizeDocumentIDCoercesEmpty(t *testing.T) {
	assert.Equal(t, "default", SanitizeDocumentID(""))
	assert.Equal(t, "default", SanitizeDocumentID("   "))
}

func TestSanitizeDocumentIDCoercesOverLength(t *testing.T) {
	assert.Equal(t, "default", SanitizeDocumentID(strings.Repeat("a", 101)))
}
