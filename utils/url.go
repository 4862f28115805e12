package utils

import (
	"net/url"
)

func IsValidURL(str string) bool {
	_, err := url.ParseRequestURI(str)
	return err == nil
}

// IsValidProxy accepts socks5 urls like socks5://127.0.0.1:9050.
func IsValidProxy(str string) bool {
	u, err := url.Parse(str)
	if err != nil {
		return false
	}
	return (u.Scheme == "socks5" || u.Scheme == "socks5h") && len(u.Host) > 0
}
