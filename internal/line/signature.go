package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader は署名が格納されるリクエストヘッダ名。
const SignatureHeader = "X-Line-Signature"

// Sign はチャネルシークレットでbodyのHMAC-SHA256を計算し、base64で返す。
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature は未パースの生のbodyに対して署名を検証する。
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(channelSecret, body)), []byte(signature))
}
