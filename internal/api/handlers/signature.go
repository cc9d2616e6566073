package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const signatureVersion = "v0"

var (
	errMissingSignature = errors.New("отсутствуют заголовки подписи")
	errStaleTimestamp   = errors.New("timestamp запроса вне допустимого окна")
	errBadSignature     = errors.New("подпись не совпадает")
)

// ReplayWindow возвращает срок хранения ключа запроса в защите от
// повторов. Timestamp принимается в пределах ±maxSkew, поэтому подпись
// остаётся действительной до 2*maxSkew после первой доставки.
func ReplayWindow(maxSkew time.Duration) time.Duration {
	return 2 * maxSkew
}

// verifySignature проверяет подпись запроса Slack:
// HMAC-SHA256 от "v0:<timestamp>:<тело>" в заголовке вида "v0=<hex>".
func verifySignature(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) error {
	if timestamp == "" || signature == "" {
		return errMissingSignature
	}
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errMissingSignature
	}
	delta := now.Sub(time.Unix(secs, 0))
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return errStaleTimestamp
	}

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(sign(secret, timestamp, body))) {
		return errBadSignature
	}
	return nil
}

// sign вычисляет подпись тела запроса.
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	_, _ = mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
