package authgate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrBadToken = errors.New("authgate: invalid session token")

// Signer issues "email:unix:hexsig" tokens signed with HMAC-SHA256.
type Signer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) sign(data string) string {
	m := hmac.New(sha256.New, s.Secret)
	m.Write([]byte(data))
	return hex.EncodeToString(m.Sum(nil))
}

func (s Signer) Issue(email string) string {
	data := email + ":" + strconv.FormatInt(s.now().Unix(), 10)
	return data + ":" + s.sign(data)
}

// Parse checks signature and age and returns the email.
func (s Signer) Parse(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return "", ErrBadToken
	}
	email, ts, sig := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(sig), []byte(s.sign(email+":"+ts))) {
		return "", ErrBadToken
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", ErrBadToken
	}
	if s.now().Sub(time.Unix(issued, 0)) > s.TTL {
		return "", ErrBadToken
	}
	return email, nil
}
