// Package safety screens shell commands issued by agents against a
// deny-list of known-destructive patterns. This is a blunt defense-in-depth
// layer in front of the bash tool, not a sandbox: anything it misses still
// runs with the process's own privileges.
package safety

import (
	"regexp"
	"strings"
)

type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

// Rules are ordered; the first match wins. Command text is lowercased and
// trimmed before matching.
var denyRules = []denyRule{
	{regexp.MustCompile(`rm\s+(-[a-z]*\s+)*-?[a-z]*r[a-z]*f[a-z]*\s+(/|/\*|~|\$home)(\s|$)`), "recursive delete of root or home"},
	{regexp.MustCompile(`rm\s+(-[a-z]*\s+)*-?[a-z]*f[a-z]*r[a-z]*\s+(/|/\*|~|\$home)(\s|$)`), "recursive delete of root or home"},
	{regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`\bdd\b.*\bof=/dev/(sd|hd|nvme|vd)`), "raw write to block device"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|vd)`), "raw write to block device"},
	{regexp.MustCompile(`:\s*\(\s*\)\s*\{.*\}\s*;?\s*:`), "fork bomb"},
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`\bsu\s+(-\s*)?root\b`), "privilege escalation"},
	{regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(ba|z|da|fi)?sh\b`), "remote code execution pipe"},
	{regexp.MustCompile(`\bchmod\s+(-[a-z]+\s+)*777\s+/`), "permission bomb on root"},
	{regexp.MustCompile(`\b(iptables|nft|ufw|firewall-cmd)\b`), "firewall mutation"},
	{regexp.MustCompile(`\b(useradd|userdel|usermod|groupadd|passwd)\b`), "user management mutation"},
	{regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`), "host power control"},
	{regexp.MustCompile(`\bkill\s+(-9\s+)?-?1\b`), "mass process kill"},
	{regexp.MustCompile(`/etc/(passwd|shadow|sudoers)\b`), "credential file access"},
}

// CheckCommand tests the command against the deny-list. It returns the
// matched reason and true when the command must be blocked.
func CheckCommand(command string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(command))
	if normalized == "" {
		return "", false
	}
	for _, rule := range denyRules {
		if rule.pattern.MatchString(normalized) {
			return rule.reason, true
		}
	}
	return "", false
}
