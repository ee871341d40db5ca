package steamsession

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// rsaPublicKey builds the key Steam hands out for password encryption:
// a hex modulus and an exponent.
func rsaPublicKey(mod string, exp int64) (*rsa.PublicKey, error) {
	var n big.Int
	if _, ok := n.SetString(mod, 16); !ok {
		return nil, errors.New("malformed RSA modulus")
	}
	if exp <= 1 || exp > 1<<31-1 {
		return nil, fmt.Errorf("bad RSA exponent %d", exp)
	}
	return &rsa.PublicKey{N: &n, E: int(exp)}, nil
}

func encryptPassword(password string, pubkey *rsa.PublicKey) (string, error) {
	encPwd, err := rsa.EncryptPKCS1v15(rand.Reader, pubkey, []byte(password))
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encPwd), nil
}
