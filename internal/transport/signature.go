package transport

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the carrier request signature: base64(HMAC-SHA1(token,
// url + each form key and value, keys sorted)).
func Sign(authToken []byte, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	h := hmac.New(sha1.New, authToken)
	h.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidSignature checks signature against the request.
func ValidSignature(authToken []byte, fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(authToken, fullURL, form)
	return hmac.Equal([]byte(signature), []byte(expected))
}
