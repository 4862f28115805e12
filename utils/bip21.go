package utils

import (
	"regexp"
	"strings"
)

var btcAddressRegex = regexp.MustCompile(`^(bc|tb|bcrt|[123mn])[a-zA-Z0-9]{25,62}$`)

func IsBip21(uri string) bool {
	if !startsWithBitcoinPrefix(uri) {
		return false
	}
	return len(GetBtcAddress(uri)) > 0
}

func GetBtcAddress(uri string) string {
	aux := strings.Split(uri, "?")
	if startsWithBitcoinPrefix(aux[0]) {
		if xua := strings.Split(aux[0], ":"); len(xua) > 1 {
			if IsValidBtcAddress(xua[1]) {
				return xua[1]
			}
		}
	}
	return ""
}

// GetBip21Param returns the value of the given query parameter of a BIP21
// uri, empty if missing.
func GetBip21Param(uri, key string) string {
	aux := strings.Split(uri, "?")
	if len(aux) < 2 {
		return ""
	}
	params := strings.Split(aux[1], "&")
	for _, param := range params {
		if kv := strings.SplitN(param, "=", 2); len(kv) == 2 {
			if kv[0] == key {
				return kv[1]
			}
		}
	}
	return ""
}

func startsWithBitcoinPrefix(s string) bool {
	return len(s) >= 8 && strings.ToLower(s[:8]) == "bitcoin:"
}

func IsValidBtcAddress(address string) bool {
	return btcAddressRegex.MatchString(address)
}
