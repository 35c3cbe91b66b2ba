// Package tracking serves the engagement endpoints hit by recipients'
// mail clients: the open pixel, the click redirect, and the unsubscribe
// link. Events are published to a Redis intake queue and folded into the
// delivery-event store off the request path.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Signer builds and verifies signed tracking URLs. The signature covers
// every identifying query parameter so tokens can't be forged or replayed
// against another campaign.
type Signer struct {
	baseURL string
	secret  []byte
}

// NewSigner creates a Signer. baseURL is the public tracking host, e.g.
// "https://t.lumamail.io".
func NewSigner(baseURL, secret string) *Signer {
	return &Signer{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}
}

func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Verify checks a signature produced by sign for the same data.
func (s *Signer) Verify(data, sig string) bool {
	return hmac.Equal([]byte(s.sign(data)), []byte(sig))
}

// OpenURL returns the open-pixel URL for a (campaign, recipient) pair.
func (s *Signer) OpenURL(campaignID, recipientID string) string {
	data := campaignID + "|" + recipientID
	return fmt.Sprintf("%s/track/open?campaign=%s&recipient=%s&sig=%s",
		s.baseURL, url.QueryEscape(campaignID), url.QueryEscape(recipientID), s.sign(data))
}

// ClickURL returns the redirect URL that records a click on target.
func (s *Signer) ClickURL(campaignID, recipientID, target string) string {
	data := campaignID + "|" + recipientID + "|" + target
	return fmt.Sprintf("%s/track/click?campaign=%s&recipient=%s&url=%s&sig=%s",
		s.baseURL, url.QueryEscape(campaignID), url.QueryEscape(recipientID),
		url.QueryEscape(target), s.sign(data))
}

// UnsubscribeURL returns the one-click unsubscribe URL.
func (s *Signer) UnsubscribeURL(campaignID, recipientID string) string {
	data := campaignID + "|" + recipientID
	return fmt.Sprintf("%s/track/unsubscribe?campaign=%s&recipient=%s&sig=%s",
		s.baseURL, url.QueryEscape(campaignID), url.QueryEscape(recipientID), s.sign(data))
}

// VerifyPair checks the signature on a (campaign, recipient) token.
func (s *Signer) VerifyPair(campaignID, recipientID, sig string) bool {
	return s.Verify(campaignID+"|"+recipientID, sig)
}

// VerifyClick checks the signature on a click token including its target.
func (s *Signer) VerifyClick(campaignID, recipientID, target, sig string) bool {
	return s.Verify(campaignID+"|"+recipientID+"|"+target, sig)
}
