package usecase

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SecretCodeGenerator は数字のみの固定長コードを生成し、bcryptでハッシュ化・照合する。
type SecretCodeGenerator struct {
	random io.Reader
	cost   int
}

// NewSecretCodeGenerator は新しいSecretCodeGeneratorを生成する。cost が0なら bcrypt.DefaultCost。
func NewSecretCodeGenerator(cost int) *SecretCodeGenerator {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &SecretCodeGenerator{random: rand.Reader, cost: cost}
}

// Generate は [0, 10^length) から一様に選んだ値をゼロ埋めした文字列で返す。
func (g *SecretCodeGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(g.random, upper)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	digits := n.Text(10)
	return strings.Repeat("0", length-len(digits)) + digits, nil
}

// Hash はコードをソルト付きでハッシュ化する。
func (g *SecretCodeGenerator) Hash(code string) (string, error) {
	if code == "" {
		return "", errors.New("code is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.cost)
	if err != nil {
		return "", fmt.Errorf("hashing code: %w", err)
	}
	return string(hash), nil
}

// Verify はコードとハッシュを照合する。比較はbcrypt内部の定数時間比較に任せる。
func (g *SecretCodeGenerator) Verify(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
