// Package mapping persists the account mapping: which ledger accounts track
// the pension balance and the value last applied to each.
package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	keyAccountID   = "accountId"
	keyLastBalance = "lastBalance"
)

// Entry maps one ledger account to its last applied observation.
//
// Fields other than accountId and lastBalance are kept verbatim, in their
// original order, so an entry that is never modified encodes back to the
// same JSON it was decoded from.
type Entry struct {
	AccountID   string
	LastBalance float64

	keys      []string
	raw       map[string]json.RawMessage
	loadedBal float64
}

// NewEntry returns an entry for accountID.
func NewEntry(accountID string, lastBalance float64) Entry {
	return Entry{AccountID: accountID, LastBalance: lastBalance}
}

// UnmarshalJSON decodes an entry. A missing or non-numeric lastBalance
// decodes as zero.
func (e *Entry) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("mapping entry: expected object, got %v", tok)
	}

	out := Entry{raw: map[string]json.RawMessage{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if _, seen := out.raw[key]; !seen {
			out.keys = append(out.keys, key)
		}
		out.raw[key] = value
	}

	if v, ok := out.raw[keyAccountID]; ok {
		_ = json.Unmarshal(v, &out.AccountID)
	}
	if v, ok := out.raw[keyLastBalance]; ok {
		var f float64
		if json.Unmarshal(v, &f) == nil {
			out.LastBalance = f
		}
	}
	out.loadedBal = out.LastBalance

	*e = out
	return nil
}

// MarshalJSON encodes the entry, preserving unknown fields and key order.
func (e Entry) MarshalJSON() ([]byte, error) {
	keys := e.keys
	if !contains(keys, keyAccountID) {
		keys = append(keys[:len(keys):len(keys)], keyAccountID)
	}
	if !contains(keys, keyLastBalance) {
		keys = append(keys[:len(keys):len(keys)], keyLastBalance)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		value, err := e.value(key)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e Entry) value(key string) ([]byte, error) {
	raw, hasRaw := e.raw[key]
	switch key {
	case keyAccountID:
		if hasRaw {
			var orig string
			err := json.Unmarshal(raw, &orig)
			if (err == nil && orig == e.AccountID) || (err != nil && e.AccountID == "") {
				return raw, nil
			}
		}
		return json.Marshal(e.AccountID)
	case keyLastBalance:
		if hasRaw && e.LastBalance == e.loadedBal {
			return raw, nil
		}
		return json.Marshal(e.LastBalance)
	default:
		return raw, nil
	}
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
