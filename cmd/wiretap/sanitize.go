package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// redactedHeaders are replaced outright.
var redactedHeaders = map[string]bool{
	"secret":   true,
	"password": true,
	"md5":      true,
	"authkey":  true,
}

// numberHeaders carry a party's number. Short values are internal
// extensions and stay readable.
var numberHeaders = map[string]bool{
	"calleridnum":          true,
	"connectedlinenum":     true,
	"destcalleridnum":      true,
	"destconnectedlinenum": true,
	"dnid":                 true,
}

const minExternalDigits = 10

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	return os.WriteFile(path, []byte(sanitize(string(data))), 0o644)
}

// sanitize scrubs a capture so it can be committed as test data.
// Credentials are blanked. External numbers and non-loopback addresses are
// swapped for stand-ins, the same real value always getting the same
// stand-in so the calls in a capture still line up.
func sanitize(capture string) string {
	r := newRedactor()
	lines := strings.Split(capture, "\n")
	for i, line := range lines {
		body, cr := strings.CutSuffix(line, "\r")
		body = r.line(body)
		if cr {
			body += "\r"
		}
		lines[i] = body
	}
	return strings.Join(lines, "\n")
}

type redactor struct {
	numbers map[string]string
	ips     map[string]string
}

func newRedactor() *redactor {
	return &redactor{
		numbers: make(map[string]string),
		ips:     make(map[string]string),
	}
}

func (r *redactor) line(line string) string {
	key, value, ok := strings.Cut(line, ":")
	if !ok || strings.ContainsAny(key, " \t") {
		return r.addresses(line)
	}

	name := strings.ToLower(key)
	switch {
	case redactedHeaders[name]:
		return key + ": REDACTED"
	case numberHeaders[name]:
		value = r.number(strings.TrimSpace(value))
		return key + ": " + value
	}
	return key + ":" + r.addresses(value)
}

func (r *redactor) number(n string) string {
	if countDigits(n) < minExternalDigits {
		return n
	}
	if fake, ok := r.numbers[n]; ok {
		return fake
	}
	fake := fmt.Sprintf("1555%07d", len(r.numbers)+1)
	r.numbers[n] = fake
	return fake
}

func (r *redactor) addresses(s string) string {
	return ipPattern.ReplaceAllStringFunc(s, func(ip string) string {
		if strings.HasPrefix(ip, "127.") {
			return ip
		}
		if fake, ok := r.ips[ip]; ok {
			return fake
		}
		fake := fmt.Sprintf("10.0.%d.%d", len(r.ips)/254, len(r.ips)%254+1)
		r.ips[ip] = fake
		return fake
	})
}

func countDigits(s string) int {
	n := 0
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n++
		}
	}
	return n
}
