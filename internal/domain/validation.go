package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidPrefix    = errors.New("invalid mailbox prefix format")
)

// RFC 5322 邮箱地址长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	// 邮箱前缀：字母数字开头结尾，中间允许 . _ -
	prefixRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// ValidateAddress 验证完整邮箱地址的格式和长度。
func ValidateAddress(address string) error {
	if address == "" {
		return ErrInvalidEmail
	}
	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return ErrInvalidEmail
	}

	local, domainPart, ok := SplitAddress(address)
	if !ok {
		return ErrInvalidEmail
	}
	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	return ValidateDomain(domainPart)
}

// ValidateDomain 验证域名部分。
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidEmail
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !strings.Contains(domain, ".") || !domainRegex.MatchString(domain) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePrefix 验证自定义邮箱前缀。空前缀合法，表示随机生成。
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if len(prefix) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !prefixRegex.MatchString(prefix) {
		return ErrInvalidPrefix
	}
	return nil
}
