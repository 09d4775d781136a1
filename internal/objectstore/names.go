package objectstore

import (
	"fmt"
	"strconv"
	"strings"
)

// TempSuffix は書き込み途中のファイルを表すサフィックスです。
const TempSuffix = ".tempFile"

const illegalChars = `\/:*?"<>|`

func isIllegal(c byte) bool {
	return c < 0x20 || c == 0x7f || strings.IndexByte(illegalChars, c) >= 0
}

func hasIllegal(key string) bool {
	for i := 0; i < len(key); i++ {
		if isIllegal(key[i]) {
			return true
		}
	}
	return false
}

// EscapeName は key をファイル名として安全な文字列に変換します。
// 禁止文字・'%'・先頭の '.' は %XX 形式にエスケープされるため、変換は単射です。
func EscapeName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isIllegal(c) || c == '%' || (i == 0 && c == '.') {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeName は EscapeName の逆変換です。
func UnescapeName(name string) (string, error) {
	if !strings.Contains(name, "%") {
		return name, nil
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(name) {
			return "", fmt.Errorf("%w: truncated escape in %q", ErrIllegalKey, name)
		}
		v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("%w: bad escape in %q", ErrIllegalKey, name)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}
