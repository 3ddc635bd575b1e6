package domain

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// ComputeHash fingerprints the ordered item list by sku, qty and options.
// It is used for change detection only.
func ComputeHash(items []CartItem) string {
	h := sha3.New224()
	buf := make([]byte, 0, 64)
	for _, it := range items {
		buf = buf[:0]
		buf = appendField(buf, it.SKU)
		buf = strconv.AppendInt(buf, int64(it.Qty), 10)
		buf = append(buf, 0x1f)
		buf = strconv.AppendInt(buf, int64(len(it.Options)), 10)
		buf = append(buf, 0x1f)
		for _, opt := range it.Options {
			buf = appendField(buf, opt.Code)
			buf = appendField(buf, opt.Value)
		}
		buf = append(buf, 0x1e)
		_, _ = h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// appendField writes a length-prefixed string so that field boundaries can
// never be confused.
func appendField(buf []byte, s string) []byte {
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, ':')
	buf = append(buf, s...)
	return append(buf, 0x1f)
}
