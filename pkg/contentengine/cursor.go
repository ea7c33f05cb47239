package contentengine

import (
	"encoding/base64"
	"encoding/json"
)

// EncodeCursor wraps a store-native last-evaluated key into an opaque
// pagination token. An empty key yields an empty token.
func EncodeCursor(lastKey map[string]interface{}) string {
	if len(lastKey) == 0 {
		return ""
	}
	raw, err := json.Marshal(lastKey)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor unwraps a pagination token. Decoding failures are
// swallowed and return nil: a corrupt cursor restarts the listing from
// the beginning rather than failing the request. The token alone
// cannot address another tenant's partition because the store also
// requires the caller's table and partition context.
func DecodeCursor(cursor string) map[string]interface{} {
	if cursor == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil
	}
	var key map[string]interface{}
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil
	}
	return key
}
