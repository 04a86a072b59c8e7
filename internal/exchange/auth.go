package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// sign produces the canonical query string for a private request: a
// timestamp parameter is appended, all parameters are sorted
// lexicographically by key, joined as "key=value&...", and HMAC-SHA256'd
// over secret. The hex signature is returned alongside the final param set
// (including "signature"), ready to be encoded onto the request.
func sign(params url.Values, secret string, now time.Time) url.Values {
	signed := url.Values{}
	for k, v := range params {
		signed[k] = v
	}
	signed.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := ""
	for i, k := range keys {
		if i > 0 {
			canonical += "&"
		}
		canonical += k + "=" + signed.Get(k)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	signature := hex.EncodeToString(mac.Sum(nil))

	signed.Set("signature", signature)
	return signed
}
