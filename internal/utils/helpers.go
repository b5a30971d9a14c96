package utils

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// StripHTML 将 HTML 正文转换为纯文本视图。
//
// 转换是有损且单向的，不保证可以还原原始 HTML。
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	out := scriptRe.ReplaceAllString(s, "")
	out = styleRe.ReplaceAllString(out, "")
	// 常见块级标签转换行，避免文本粘连
	out = regexp.MustCompile(`(?i)<(br|/p|/div|/tr|/li|/h[1-6])[^>]*>`).ReplaceAllString(out, "\n")
	out = tagRe.ReplaceAllString(out, "")
	out = html.UnescapeString(out)
	out = spaceRe.ReplaceAllString(out, " ")
	out = blankRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// 上游邮件时间戳的常见格式，按命中概率排序。
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
}

// ParseDate 尽力解析上游返回的时间字符串。
//
// 支持 RFC3339/RFC1123 等常见格式以及 Unix 秒/毫秒时间戳；
// 全部失败时返回当前时间，保证消息仍然可用。
func ParseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC()
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		switch {
		case n > 1e12: // 毫秒时间戳
			return time.UnixMilli(n).UTC()
		case n > 0:
			return time.Unix(n, 0).UTC()
		}
	}

	return time.Now().UTC()
}

// ParseUnixSeconds 解析十进制 Unix 秒时间戳。
func ParseUnixSeconds(value string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(n, 0).UTC(), true
}
