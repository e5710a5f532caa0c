package engine

import (
	"regexp"
	"strings"
)

// autoReplyPhrases is the fixed vocabulary matched case-insensitively as a
// substring of both subject and body. Kept deliberately conservative: a
// false positive here silently keeps mailing someone who already answered.
var autoReplyPhrases = []string{
	"out of office",
	"out of the office",
	"automatic reply",
	"automated reply",
	"auto-reply",
	"autoreply",
	"away from my desk",
	"away from the office",
	"on vacation",
	"on annual leave",
	"on holiday",
	"maternity leave",
	"paternity leave",
	"parental leave",
	"sick leave",
	"currently unavailable",
	"limited access to email",
	"limited access to my email",
	"do not reply to this email",
	"this is an automated",
	"delivery status notification",
	"undeliverable",
}

// autoReplyPatterns capture common OOO sentence shapes that the phrase list
// misses because of inflection or optional words.
var autoReplyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i\s+am\s+(currently\s+)?out\s+of\s+(the\s+)?office`),
	regexp.MustCompile(`(?i)i\s+will\s+be\s+(back|returning)\s+(on|in)\b`),
	regexp.MustCompile(`(?i)will\s+be\s+(away|out\s+of\s+office)\s+until\b`),
	regexp.MustCompile(`(?i)on\s+(vacation|holiday|leave)\s+(until|through|till)\b`),
	regexp.MustCompile(`(?i)(am|is)\s+(currently\s+)?travell?ing\s+(with|and\s+have)\s+limited`),
	regexp.MustCompile(`(?i)your\s+(message|email)\s+(has\s+been|was)\s+received.{0,40}(respond|reply|return)`),
	regexp.MustCompile(`(?i)for\s+urgent\s+(matters|inquiries|issues),?\s+please\s+contact`),
}

// IsAutoReply reports whether a message looks like an automated
// out-of-office or vacation reply. Pure, deterministic, and cheap enough to
// run per prospect per tick; no external calls.
func IsAutoReply(subject, content string) bool {
	haystack := strings.ToLower(subject + "\n" + content)
	for _, phrase := range autoReplyPhrases {
		if strings.Contains(haystack, phrase) {
			return true
		}
	}
	for _, re := range autoReplyPatterns {
		if re.MatchString(subject) || re.MatchString(content) {
			return true
		}
	}
	return false
}
