package room

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeAlphabet 房间码字符集，去掉了容易混淆的 I、O、0、1
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const CodeLength = 4

// NewCode 生成一个随机房间码
func NewCode() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and upper-cases a user-typed room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
