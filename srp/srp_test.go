package srp

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// server plays the verifier side so the client derivation can be checked
// end to end.
type server struct {
	salt     *big.Int
	verifier *big.Int
	b        *big.Int
	B        *big.Int
}

func newServer(t *testing.T, poolName, userID string, password []byte) server {
	t.Helper()
	salt := new(big.Int).SetBytes(bytes.Repeat([]byte{0x5a}, 16))
	x := computeX(poolName, userID, password, salt)
	v := new(big.Int).Exp(groupG, x, groupN)

	raw := make([]byte, 64)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	b := new(big.Int).SetBytes(raw)

	B := new(big.Int).Mul(groupK, v)
	B.Add(B, new(big.Int).Exp(groupG, b, groupN))
	B.Mod(B, groupN)
	return server{salt: salt, verifier: v, b: b, B: B}
}

func (s server) expectedSignature(t *testing.T, A *big.Int, poolName, userID string, secretBlock []byte, timestamp string) string {
	t.Helper()
	u := computeU(A, s.B)
	S := new(big.Int).Exp(s.verifier, u, groupN)
	S.Mul(S, A)
	S.Exp(S, s.b, groupN)
	key, err := deriveKey(S, u)
	require.NoError(t, err)
	return sign(key, poolName, userID, secretBlock, timestamp)
}

func TestPasswordClaimMatchesServerDerivation(t *testing.T) {
	poolName := "AbCdEf123"
	userID := "3f1c0a2e-user"
	password := []byte("correct horse battery staple")

	srv := newServer(t, poolName, userID, password)
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	secretBlock := []byte("opaque-secret-block")
	at := time.Date(2026, time.March, 5, 7, 8, 9, 0, time.UTC)

	claim, err := PasswordClaim(ClaimInput{
		PoolName:    poolName,
		UserID:      userID,
		Password:    password,
		SaltHex:     srv.salt.Text(16),
		ServerBHex:  srv.B.Text(16),
		SecretBlock: base64.StdEncoding.EncodeToString(secretBlock),
		KeyPair:     kp,
		Time:        at,
	})
	require.NoError(t, err)

	assert.Equal(t, "Thu Mar 5 07:08:09 UTC 2026", claim.Timestamp)
	assert.Equal(t, srv.expectedSignature(t, kp.Public, poolName, userID, secretBlock, claim.Timestamp), claim.Signature)
}

func TestPasswordClaimRejectsWrongPassword(t *testing.T) {
	srv := newServer(t, "pool", "user", []byte("right"))
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	block := base64.StdEncoding.EncodeToString([]byte("block"))
	claim, err := PasswordClaim(ClaimInput{
		PoolName:    "pool",
		UserID:      "user",
		Password:    []byte("wrong"),
		SaltHex:     srv.salt.Text(16),
		ServerBHex:  srv.B.Text(16),
		SecretBlock: block,
		KeyPair:     kp,
		Time:        time.Now(),
	})
	require.NoError(t, err)
	assert.NotEqual(t, srv.expectedSignature(t, kp.Public, "pool", "user", []byte("block"), claim.Timestamp), claim.Signature)
}

func TestPasswordClaimValidatesServerValue(t *testing.T) {
	kp, err := GenerateKeyPair(nil)
	require.NoError(t, err)

	_, err = PasswordClaim(ClaimInput{
		SaltHex:     "01",
		ServerBHex:  groupN.Text(16),
		SecretBlock: "",
		KeyPair:     kp,
	})
	assert.Error(t, err)

	_, err = PasswordClaim(ClaimInput{SaltHex: "01", ServerBHex: "zz", KeyPair: kp})
	assert.Error(t, err)

	_, err = PasswordClaim(ClaimInput{SaltHex: "01", ServerBHex: "02"})
	assert.Error(t, err)
}

func TestGenerateKeyPairPublicValue(t *testing.T) {
	kp, err := GenerateKeyPair(bytes.NewReader(bytes.Repeat([]byte{0x01}, privateKeySize)))
	require.NoError(t, err)

	want := new(big.Int).Exp(groupG, kp.Private, groupN)
	assert.Equal(t, 0, want.Cmp(kp.Public))
	assert.Equal(t, kp.Public.Text(16), kp.PublicHex())

	_, err = GenerateKeyPair(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestPadHex(t *testing.T) {
	assert.Equal(t, "0f", padHex(big.NewInt(0x0f)))
	assert.Equal(t, "7f", padHex(big.NewInt(0x7f)))
	assert.Equal(t, "0080", padHex(big.NewInt(0x80)))
	assert.Equal(t, "0123", padHex(big.NewInt(0x123)))
}
