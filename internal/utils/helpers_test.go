package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	t.Run("移除标签保留文本", func(t *testing.T) {
		out := StripHTML(`<p>Your code is <b>123456</b></p>`)
		assert.Equal(t, "Your code is 123456", out)
	})

	t.Run("script和style整块移除", func(t *testing.T) {
		out := StripHTML(`<style>p{color:red}</style><p>hello</p><script>alert(1)</script>`)
		assert.Equal(t, "hello", out)
	})

	t.Run("块级标签转换行", func(t *testing.T) {
		out := StripHTML(`<div>line1</div><div>line2</div>`)
		assert.Equal(t, "line1\nline2", out)
	})

	t.Run("HTML实体解码", func(t *testing.T) {
		out := StripHTML(`a &amp; b &lt;c&gt;`)
		assert.Equal(t, "a & b <c>", out)
	})

	t.Run("空输入", func(t *testing.T) {
		assert.Equal(t, "", StripHTML(""))
	})
}

func TestParseDate(t *testing.T) {
	t.Run("RFC3339", func(t *testing.T) {
		got := ParseDate("2025-06-01T12:30:00Z")
		assert.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), got.UTC())
	})

	t.Run("空格分隔格式", func(t *testing.T) {
		got := ParseDate("2025-06-01 12:30:00")
		assert.Equal(t, 2025, got.Year())
		assert.Equal(t, 30, got.Minute())
	})

	t.Run("Unix秒时间戳", func(t *testing.T) {
		got := ParseDate("1748780000")
		assert.Equal(t, time.Unix(1748780000, 0).UTC(), got)
	})

	t.Run("Unix毫秒时间戳", func(t *testing.T) {
		got := ParseDate("1748780000123")
		assert.Equal(t, time.UnixMilli(1748780000123).UTC(), got)
	})

	t.Run("解析失败时返回当前时间", func(t *testing.T) {
		before := time.Now().UTC().Add(-time.Second)
		got := ParseDate("not a date")
		after := time.Now().UTC().Add(time.Second)
		assert.True(t, got.After(before) && got.Before(after))
	})
}

func TestParseUnixSeconds(t *testing.T) {
	got, ok := ParseUnixSeconds("1748780000")
	assert.True(t, ok)
	assert.Equal(t, time.Unix(1748780000, 0).UTC(), got)

	_, ok = ParseUnixSeconds("not-a-number")
	assert.False(t, ok)

	_, ok = ParseUnixSeconds("-5")
	assert.False(t, ok)
}
