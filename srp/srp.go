// Package srp implements the client side of the user pool SRP-6a password
// verifier exchange.
package srp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const nHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64" +
	"ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
	"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6B" +
	"F12FFA06D98A0864D87602733EC86A64521F2B18177B200C" +
	"BBE117577A615D6C770988C0BAD946E208E24FA074E5AB31" +
	"43DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"

const (
	derivedKeyInfo = "Caldera Derived Key"
	derivedKeySize = 16
	privateKeySize = 128

	// TimestampLayout matches the server's expected claim timestamp, with an
	// unpadded day of month.
	TimestampLayout = "Mon Jan 2 15:04:05 UTC 2006"
)

var (
	groupN = mustHex(nHex)
	groupG = big.NewInt(2)
	groupK = hexHashInt(padHex(groupN) + padHex(groupG))
)

// KeyPair is the client's ephemeral SRP key pair.
type KeyPair struct {
	Private *big.Int
	Public  *big.Int
}

// PublicHex returns SRP_A.
func (k KeyPair) PublicHex() string {
	if k.Public == nil {
		return ""
	}
	return k.Public.Text(16)
}

// GenerateKeyPair draws a private value from r (crypto/rand when nil).
func GenerateKeyPair(r io.Reader) (KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, privateKeySize)
	for attempt := 0; attempt < 8; attempt++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return KeyPair{}, fmt.Errorf("srp: reading random: %w", err)
		}
		a := new(big.Int).SetBytes(buf)
		a.Mod(a, groupN)
		if a.Sign() == 0 {
			continue
		}
		A := new(big.Int).Exp(groupG, a, groupN)
		if A.Sign() == 0 {
			continue
		}
		return KeyPair{Private: a, Public: A}, nil
	}
	return KeyPair{}, fmt.Errorf("srp: could not derive a valid public value")
}

// ClaimInput is what the PASSWORD_VERIFIER challenge needs.
type ClaimInput struct {
	PoolName    string
	UserID      string
	Password    []byte
	SaltHex     string
	ServerBHex  string
	SecretBlock string
	KeyPair     KeyPair
	Time        time.Time
}

// Claim is the response to PASSWORD_VERIFIER.
type Claim struct {
	Signature string
	Timestamp string
}

// PasswordClaim derives the session key and signs the secret block.
func PasswordClaim(in ClaimInput) (Claim, error) {
	if in.KeyPair.Private == nil || in.KeyPair.Public == nil {
		return Claim{}, fmt.Errorf("srp: missing key pair")
	}
	B, ok := new(big.Int).SetString(in.ServerBHex, 16)
	if !ok {
		return Claim{}, fmt.Errorf("srp: invalid SRP_B")
	}
	if new(big.Int).Mod(B, groupN).Sign() == 0 {
		return Claim{}, fmt.Errorf("srp: SRP_B mod N is zero")
	}
	salt, ok := new(big.Int).SetString(in.SaltHex, 16)
	if !ok {
		return Claim{}, fmt.Errorf("srp: invalid salt")
	}
	secretBlock, err := base64.StdEncoding.DecodeString(in.SecretBlock)
	if err != nil {
		return Claim{}, fmt.Errorf("srp: invalid secret block: %w", err)
	}

	u := computeU(in.KeyPair.Public, B)
	if u.Sign() == 0 {
		return Claim{}, fmt.Errorf("srp: scrambling parameter is zero")
	}
	x := computeX(in.PoolName, in.UserID, in.Password, salt)
	S := clientSecret(B, x, u, in.KeyPair.Private)

	key, err := deriveKey(S, u)
	if err != nil {
		return Claim{}, err
	}

	ts := in.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	timestamp := ts.UTC().Format(TimestampLayout)
	return Claim{
		Signature: sign(key, in.PoolName, in.UserID, secretBlock, timestamp),
		Timestamp: timestamp,
	}, nil
}

func computeU(A, B *big.Int) *big.Int {
	return hexHashInt(padHex(A) + padHex(B))
}

func computeX(poolName, userID string, password []byte, salt *big.Int) *big.Int {
	h := sha256.New()
	h.Write([]byte(poolName + userID + ":"))
	h.Write(password)
	userHash := hex.EncodeToString(h.Sum(nil))
	return hexHashInt(padHex(salt) + userHash)
}

// clientSecret computes (B - k*g^x)^(a + u*x) mod N.
func clientSecret(B, x, u, a *big.Int) *big.Int {
	gx := new(big.Int).Exp(groupG, x, groupN)
	kgx := new(big.Int).Mul(groupK, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, groupN)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, a)
	return new(big.Int).Exp(base, exp, groupN)
}

func deriveKey(S, u *big.Int) ([]byte, error) {
	ikm, err := hex.DecodeString(padHex(S))
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(padHex(u))
	if err != nil {
		return nil, err
	}
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte(derivedKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("srp: deriving key: %w", err)
	}
	return key, nil
}

func sign(key []byte, poolName, userID string, secretBlock []byte, timestamp string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(poolName))
	mac.Write([]byte(userID))
	mac.Write(secretBlock)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// padHex renders n as even-length hex, prefixed with 00 when the high bit
// is set so the value reads as positive.
func padHex(n *big.Int) string {
	s := n.Text(16)
	if len(s)%2 == 1 {
		s = "0" + s
	} else if strings.ContainsRune("89abcdef", rune(s[0])) {
		s = "00" + s
	}
	return s
}

func hexHashInt(hexStr string) *big.Int {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(fmt.Sprintf("srp: invalid hex input: %v", err))
	}
	sum := sha256.Sum256(raw)
	return new(big.Int).SetBytes(sum[:])
}

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: invalid group constant")
	}
	return n
}
