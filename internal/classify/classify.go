// Package classify implements the deterministic rule cascade applied to
// inbound mail before dispatch (spec §4.J): auto-reply detection, spam
// scoring, approval-verdict parsing, and best-effort receipt/request-id
// extraction. Every function here is a pure function of its inputs; the
// package holds no mutable state.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Mail is the narrow view classification needs from an inbound message.
type Mail struct {
	Headers map[string][]string
	Sender  string
	Subject string
	Body    string
}

func headerValue(headers map[string][]string, name string) string {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

var autoReplyPrecedence = map[string]bool{"bulk": true, "junk": true, "auto_reply": true, "list": true}

var autoReplyLocalParts = []string{
	"noreply", "no-reply", "donotreply", "mailer-daemon", "postmaster", "mail-delivery", "bounce",
}

var autoReplySubjectPrefixes = []string{
	"auto:", "automatic reply:", "ooo:", "out of office:", "away:", "vacation:",
	"undeliverable:", "delivery status notification", "failure notice:", "returned mail:", "mail delivery failed:",
}

var autoReplyBodyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i('| a)?m (currently )?out of (the )?office`),
	regexp.MustCompile(`(?i)i will be (out of office|away|on vacation)`),
	regexp.MustCompile(`(?i)this is an automat(ed|ic) (reply|response)`),
	regexp.MustCompile(`(?i)your message (could not|wasn'?t) be delivered`),
	regexp.MustCompile(`(?i)delivery (has )?failed`),
	regexp.MustCompile(`(?i)undeliverable (mail|message)`),
}

// DetectAutoReply implements spec §4.J's four-way auto-reply cascade.
func DetectAutoReply(m Mail) bool {
	if v := headerValue(m.Headers, "Auto-Submitted"); v != "" && !strings.EqualFold(v, "no") {
		return true
	}
	if headerValue(m.Headers, "X-Auto-Response-Suppress") != "" {
		return true
	}
	if headerValue(m.Headers, "X-Autoreply") != "" {
		return true
	}
	if autoReplyPrecedence[strings.ToLower(headerValue(m.Headers, "Precedence"))] {
		return true
	}

	local := strings.ToLower(localPart(m.Sender))
	for _, candidate := range autoReplyLocalParts {
		if local == candidate {
			return true
		}
	}

	subject := strings.ToLower(strings.TrimSpace(m.Subject))
	for _, prefix := range autoReplySubjectPrefixes {
		if strings.HasPrefix(subject, prefix) {
			return true
		}
	}

	for _, re := range autoReplyBodyPatterns {
		if re.MatchString(m.Body) {
			return true
		}
	}
	return false
}

func localPart(address string) string {
	if i := strings.Index(address, "@"); i >= 0 {
		return address[:i]
	}
	return address
}

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bviagra\b`),
	regexp.MustCompile(`(?i)\bact now\b`),
	regexp.MustCompile(`(?i)\bfree money\b`),
	regexp.MustCompile(`(?i)\bwire transfer immediately\b`),
	regexp.MustCompile(`(?i)\bclick here\b`),
	regexp.MustCompile(`(?i)\blimited time offer\b`),
	regexp.MustCompile(`(?i)\byou('| ha)ve won\b`),
	regexp.MustCompile(`(?i)\bcongratulations you\b`),
	regexp.MustCompile(`(?i)\bnigerian prince\b`),
	regexp.MustCompile(`(?i)\bcrypto(currency)? investment\b`),
}

var allCapsToken = regexp.MustCompile(`\b[A-Z]{4,}\b`)

// SpamScore implements spec §4.J's spam scoring, normalized to [0,1].
func SpamScore(m Mail) float64 {
	text := m.Subject + "\n" + m.Body
	var points float64

	for _, re := range spamPatterns {
		if re.MatchString(text) {
			points++
		}
	}
	if strings.Count(text, "!") > 3 {
		points++
	}
	if len(allCapsToken.FindAllString(text, -1)) > 3 {
		points++
	}
	if isNoReplySender(m.Sender) {
		points += 0.5
	}

	const maxPoints = 10.0
	return points / maxPoints
}

// IsSpam applies threshold to SpamScore (default 0.5 per spec §4.G).
func IsSpam(m Mail, threshold float64) bool {
	return SpamScore(m) >= threshold
}

func isNoReplySender(address string) bool {
	local := strings.ToLower(localPart(address))
	for _, candidate := range autoReplyLocalParts {
		if local == candidate {
			return true
		}
	}
	return false
}

// ApprovalVerdict is the outcome of keyword-based approval scoring.
type ApprovalVerdict struct {
	Verdict    string // "approved" | "rejected" | "unclear"
	Confidence string // "high" | "medium" | "low"
	Matched    []string
}

var approveHigh = []string{"approved", "i approve", "fully approved", "approve this request", "greenlit", "proceed"}
var approveMedium = []string{"looks good", "sounds good", "go ahead", "sign off", "lgtm"}
var rejectHigh = []string{"rejected", "i reject", "denied", "do not approve", "not approved"}
var rejectMedium = []string{"not sure", "need more info", "hold off", "reconsider"}

func wholeWordCount(text string, phrases []string) (count int, matched []string) {
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(phrase)) + `\b`)
		if re.MatchString(lower) {
			count++
			matched = append(matched, phrase)
		}
	}
	return
}

// ScoreApproval implements spec §4.J's approval-verdict cascade.
func ScoreApproval(subject, body string) ApprovalVerdict {
	text := subject + "\n" + body

	highApprove, matchedHA := wholeWordCount(text, approveHigh)
	medApprove, matchedMA := wholeWordCount(text, approveMedium)
	highReject, matchedHR := wholeWordCount(text, rejectHigh)
	medReject, matchedMR := wholeWordCount(text, rejectMedium)

	approveScore := 2*highApprove + medApprove
	rejectScore := 2*highReject + medReject

	matched := append(append(append(append([]string{}, matchedHA...), matchedMA...), matchedHR...), matchedMR...)

	switch {
	case approveScore > 0 && rejectScore == 0:
		conf := "medium"
		if highApprove > 0 {
			conf = "high"
		}
		return ApprovalVerdict{Verdict: "approved", Confidence: conf, Matched: matched}
	case rejectScore > 0 && approveScore == 0:
		conf := "medium"
		if highReject > 0 {
			conf = "high"
		}
		return ApprovalVerdict{Verdict: "rejected", Confidence: conf, Matched: matched}
	case approveScore > 0 && rejectScore > 0:
		if approveScore > rejectScore {
			return ApprovalVerdict{Verdict: "approved", Confidence: "low", Matched: matched}
		}
		if rejectScore > approveScore {
			return ApprovalVerdict{Verdict: "rejected", Confidence: "low", Matched: matched}
		}
		return ApprovalVerdict{Verdict: "unclear", Confidence: "low", Matched: matched}
	default:
		return ApprovalVerdict{Verdict: "unclear", Confidence: "low", Matched: matched}
	}
}

// ExtractedReceipt carries whatever fields best-effort extraction found.
type ExtractedReceipt struct {
	AmountMinor *int64
	Date        string // ISO 8601 date, if found
	Vendor      string
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s?([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)total:?\s*\$?\s?([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)amount:?\s*\$?\s?([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`),
}

var vendorPattern = regexp.MustCompile(`(?i)(?:vendor|merchant|from):\s*([A-Za-z0-9 &.,'-]{2,60})`)

// ExtractReceipt implements spec §4.J's best-effort receipt extraction.
func ExtractReceipt(text string) ExtractedReceipt {
	var result ExtractedReceipt

	for _, re := range amountPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			cleaned := strings.ReplaceAll(m[1], ",", "")
			if dot := strings.IndexByte(cleaned, '.'); dot >= 0 {
				whole, frac := cleaned[:dot], cleaned[dot+1:]
				for len(frac) < 2 {
					frac += "0"
				}
				if v, err := strconv.ParseInt(whole+frac, 10, 64); err == nil {
					result.AmountMinor = &v
				}
			} else if v, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
				v *= 100
				result.AmountMinor = &v
			}
			break
		}
	}

	for _, re := range datePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			result.Date = normalizeDate(m[1])
			break
		}
	}

	if m := vendorPattern.FindStringSubmatch(text); m != nil {
		result.Vendor = strings.TrimSpace(m[1])
	}

	return result
}

func normalizeDate(raw string) string {
	if strings.Contains(raw, "-") {
		return raw
	}
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return raw
	}
	month, day, year := parts[0], parts[1], parts[2]
	if len(month) == 1 {
		month = "0" + month
	}
	if len(day) == 1 {
		day = "0" + day
	}
	return year + "-" + month + "-" + day
}

var requestIDPattern = regexp.MustCompile(`(?i)\[?#?\s*(SBA-\d{6}-\d{3})\]?`)

// ExtractRequestID implements spec §4.J's treasury request-id extraction.
func ExtractRequestID(text string) (string, bool) {
	m := requestIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}
