package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	svix "github.com/svix/svix-webhooks/go"
)

// ErrInvalidSignature is returned for deliveries that fail verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	HeaderEventID        = "event-id"
	HeaderEventTimestamp = "event-timestamp"
	HeaderEventSignature = "event-signature"

	secretPrefix = "whsec_"
)

// svix header names; senders may use either family
var svixHeader = map[string]string{
	HeaderEventID:        "svix-id",
	HeaderEventTimestamp: "svix-timestamp",
	HeaderEventSignature: "svix-signature",
}

// Envelope is a verified provider delivery
type Envelope struct {
	ID        string          `json:"-"`
	Timestamp time.Time       `json:"-"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// Verifier checks provider signatures with the svix scheme:
// base64(HMAC-SHA256(secret, id + "." + timestamp + "." + body)).
type Verifier struct {
	wh        *svix.Webhook
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier accepts either a "whsec_" prefixed base64 secret or a raw one.
// A zero tolerance disables the timestamp check.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	var (
		wh  *svix.Webhook
		err error
	)
	if strings.HasPrefix(secret, secretPrefix) {
		wh, err = svix.NewWebhook(secret)
	} else {
		wh, err = svix.NewWebhookRaw([]byte(secret))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return &Verifier{wh: wh, tolerance: tolerance, now: time.Now}, nil
}

// Sign returns the signature header value for a delivery
func (v *Verifier) Sign(id string, ts time.Time, body []byte) (string, error) {
	return v.wh.Sign(id, ts, body)
}

// Verify authenticates body against the delivery headers and decodes it
func (v *Verifier) Verify(body []byte, headers http.Header) (*Envelope, error) {
	id := header(headers, HeaderEventID)
	tsRaw := header(headers, HeaderEventTimestamp)
	sigs := header(headers, HeaderEventSignature)
	if id == "" || tsRaw == "" || sigs == "" {
		return nil, fmt.Errorf("%w: missing headers", ErrInvalidSignature)
	}

	secs, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	ts := time.Unix(secs, 0)
	if v.tolerance > 0 {
		skew := v.now().Sub(ts)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.tolerance {
			return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	// the timestamp window is ours; svix only checks the signature
	signed := http.Header{}
	signed.Set(svixHeader[HeaderEventID], id)
	signed.Set(svixHeader[HeaderEventTimestamp], tsRaw)
	signed.Set(svixHeader[HeaderEventSignature], sigs)
	if err := v.wh.VerifyIgnoringTimestamp(body, signed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("invalid webhook payload: missing type")
	}
	env.ID = id
	env.Timestamp = ts
	return &env, nil
}

func header(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}
	return h.Get(svixHeader[name])
}
