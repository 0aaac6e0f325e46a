package query

import (
	"encoding/base64"
	"encoding/json"
)

// cursorPayload pins a resume position: the sort key value and id of the
// last item of the previous page. The id alone locates the position; the
// key is carried so cursors stay meaningful across sort-stable inserts.
type cursorPayload struct {
	Key string `json:"k"`
	ID  string `json:"id"`
}

func encodeCursor(key, id string) string {
	raw, _ := json.Marshal(cursorPayload{Key: key, ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (cursorPayload, bool) {
	if cursor == "" {
		return cursorPayload{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return cursorPayload{}, false
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return cursorPayload{}, false
	}
	return payload, true
}
