package mpesa

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fundraiser/apperr"
)

// Metadata item names sent with a successful push.
const (
	ItemReceipt         = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
	ItemAmount          = "Amount"
)

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Callback is a decoded STK push result.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	HasMetadata       bool
	items             map[string]string
}

// ParseCallback decodes the provider envelope. ResultCode is accepted as a
// number or a numeric string; a missing or unreadable code counts as a
// non-zero result.
func ParseCallback(payload []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedCallback, "Invalid callback payload", err)
	}
	stk := env.Body.StkCallback
	if stk == nil {
		return nil, apperr.New(apperr.KindMalformedCallback, "Missing stkCallback")
	}
	checkoutID := strings.TrimSpace(stk.CheckoutRequestID)
	if checkoutID == "" {
		return nil, apperr.New(apperr.KindMalformedCallback, "Missing CheckoutRequestID")
	}

	cb := &Callback{
		MerchantRequestID: strings.TrimSpace(stk.MerchantRequestID),
		CheckoutRequestID: checkoutID,
		ResultCode:        parseResultCode(stk.ResultCode),
		ResultDesc:        stk.ResultDesc,
		items:             map[string]string{},
	}
	if stk.CallbackMetadata != nil {
		cb.HasMetadata = true
		for _, it := range stk.CallbackMetadata.Item {
			if it.Value == nil {
				continue
			}
			cb.items[it.Name] = valueString(it.Value)
		}
	}
	return cb, nil
}

func parseResultCode(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return -1
	}
	return n
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Succeeded reports a zero ResultCode accompanied by metadata.
func (c *Callback) Succeeded() bool {
	return c.ResultCode == 0 && c.HasMetadata
}

// Item returns the metadata value with the given name.
func (c *Callback) Item(name string) (string, bool) {
	v, ok := c.items[name]
	if ok && v == "" {
		return "", false
	}
	return v, ok
}

func (c *Callback) Receipt() string {
	v, _ := c.Item(ItemReceipt)
	return v
}

func (c *Callback) PhoneNumber() string {
	v, _ := c.Item(ItemPhoneNumber)
	return v
}

// RawTransactionDate is the provider's yyyyMMddHHmmss value as sent.
func (c *Callback) RawTransactionDate() string {
	v, _ := c.Item(ItemTransactionDate)
	return v
}

// TransactionDate parses TransactionDate in East Africa Time.
func (c *Callback) TransactionDate() (time.Time, bool) {
	raw := c.RawTransactionDate()
	if raw == "" {
		return time.Time{}, false
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Amount returns the paid amount in whole shillings.
func (c *Callback) Amount() (int64, bool) {
	raw, ok := c.Item(ItemAmount)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// MissingFields lists the required success metadata items that are absent or
// unreadable.
func (c *Callback) MissingFields() []string {
	var missing []string
	if c.Receipt() == "" {
		missing = append(missing, ItemReceipt)
	}
	if _, ok := c.TransactionDate(); !ok {
		missing = append(missing, ItemTransactionDate)
	}
	if c.PhoneNumber() == "" {
		missing = append(missing, ItemPhoneNumber)
	}
	return missing
}
