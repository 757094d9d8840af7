package session

import (
	"strings"
	"unicode/utf8"
)

var ackPhrases = []string{"收到", "谢谢", "好的", "OK", "ok", "知道了", "明白"}

var correctionKeywords = []string{"不对", "错了", "更正", "应该是", "不是", "弄错了", "说错了", "修改", "改一下"}

// IsNoise reports whether content is too short or a bare acknowledgement
// to carry any ticket information.
func IsNoise(content string) bool {
	c := strings.TrimSpace(content)
	if utf8.RuneCountInString(c) <= 1 {
		return true
	}
	c = strings.TrimSuffix(strings.TrimSuffix(c, "。"), "！")
	for _, p := range ackPhrases {
		if c == p {
			return true
		}
	}
	return false
}

// IsCorrection reports whether content retracts or amends what the sender
// said before.
func IsCorrection(content string) bool {
	for _, k := range correctionKeywords {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}
