// Package xid generates prefixed row identifiers (tx-..., refund-...,
// shift-...). Ids sort roughly by creation time, which keeps listing
// queries sane without a separate sequence.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns "<prefix>-<unix nanos>-<hex suffix>". The random suffix
// makes collisions across processes implausible; when the random source
// fails the timestamp alone still yields a usable id.
func New(prefix string) string {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(suffix))
}
