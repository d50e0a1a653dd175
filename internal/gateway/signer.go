package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
)

// signRequest is the material a signer works over. Query may be mutated
// (query-signature exchanges append the signature as a parameter).
type signRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// signer produces the authentication material for one exchange's request
// scheme. now is injected for deterministic tests.
type signer interface {
	sign(req *signRequest) (headers map[string]string)
}

func newSigner(exchange string, cred domain.Credential, now func() time.Time) (signer, error) {
	switch exchange {
	case "binance":
		return &querySigner{cred: cred, now: now, keyHeader: "X-MBX-APIKEY"}, nil
	case "bingx":
		return &querySigner{cred: cred, now: now, keyHeader: "X-BX-APIKEY"}, nil
	case "okx":
		return &headerSigner{cred: cred, now: now, prefix: "OK-ACCESS-", iso: true}, nil
	case "bitget":
		return &headerSigner{cred: cred, now: now, prefix: "ACCESS-", iso: false}, nil
	case "gate":
		return &gateSigner{cred: cred, now: now}, nil
	}
	return nil, &domain.ValidationError{
		Field: "exchange", Value: exchange, Reason: "no request signer",
	}
}

// querySigner implements the binance-style scheme: a millisecond timestamp
// parameter plus an HMAC-SHA256 hex signature over the full query string,
// appended as the signature parameter.
type querySigner struct {
	cred      domain.Credential
	now       func() time.Time
	keyHeader string
}

func (s *querySigner) sign(req *signRequest) map[string]string {
	req.Query.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	req.Query.Set("recvWindow", "5000")
	sig := hmacSHA256Hex(s.cred.APISecret, req.Query.Encode())
	req.Query.Set("signature", sig)
	return map[string]string{s.keyHeader: s.cred.APIKey}
}

// headerSigner implements the okx/bitget scheme: HMAC-SHA256 over
// timestamp + method + requestPath(+query) + body, base64-encoded, sent as
// headers together with key and passphrase.
type headerSigner struct {
	cred   domain.Credential
	now    func() time.Time
	prefix string
	iso    bool
}

func (s *headerSigner) sign(req *signRequest) map[string]string {
	var ts string
	if s.iso {
		ts = s.now().UTC().Format("2006-01-02T15:04:05.000Z")
	} else {
		ts = strconv.FormatInt(s.now().UnixMilli(), 10)
	}

	path := req.Path
	if enc := req.Query.Encode(); enc != "" {
		path += "?" + enc
	}
	message := ts + req.Method + path + string(req.Body)
	sig := hmacSHA256Base64(s.cred.APISecret, message)

	return map[string]string{
		s.prefix + "KEY":        s.cred.APIKey,
		s.prefix + "SIGN":       sig,
		s.prefix + "TIMESTAMP":  ts,
		s.prefix + "PASSPHRASE": s.cred.Passphrase,
	}
}

// gateSigner implements gate's v4 scheme: HMAC-SHA512 hex over
// method \n path \n query \n sha512(body) \n timestamp.
type gateSigner struct {
	cred domain.Credential
	now  func() time.Time
}

func (s *gateSigner) sign(req *signRequest) map[string]string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	bodyHash := sha512.Sum512(req.Body)
	message := fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
		req.Method, req.Path, req.Query.Encode(), hex.EncodeToString(bodyHash[:]), ts)

	mac := hmac.New(sha512.New, []byte(s.cred.APISecret))
	mac.Write([]byte(message))

	return map[string]string{
		"KEY":       s.cred.APIKey,
		"Timestamp": ts,
		"SIGN":      hex.EncodeToString(mac.Sum(nil)),
	}
}

func hmacSHA256Hex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA256Base64(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
