package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Strength is a banded rating derived from entropy.
type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthMedium     Strength = "medium"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very-strong"
)

// Entropy band limits in bits.
const (
	mediumEntropyBits     = 50
	strongEntropyBits     = 80
	veryStrongEntropyBits = 120
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*()-_=+[]{};:,.<>?/~|"
)

// ErrGenerateExhausted is returned when Generate cannot produce a compliant password.
var ErrGenerateExhausted = errors.New("password generation exhausted attempts")

// Policy is a set of independently toggleable rules. The zero value accepts anything;
// use DefaultPolicy for production rules.
type Policy struct {
	MinLength int
	MaxLength int

	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSpecial   bool

	RejectCommon           bool
	RejectPersonalInfo     bool
	RejectSequential       bool
	SequenceLength         int
	RejectRepeated         bool
	MaxRepeated            int
	RejectKeyboardPatterns bool
	RejectHistory          bool

	MinEntropy     float64
	MinUniqueChars int

	MaxAge time.Duration
}

// DefaultPolicy returns the authoritative production policy. The minimum length is 16.
// Sequential-run rejection is available but disabled by default because it rejects
// ordinary numeric suffixes such as "123".
func DefaultPolicy() Policy {
	return Policy{
		MinLength:              16,
		MaxLength:              128,
		RequireUppercase:       true,
		RequireLowercase:       true,
		RequireDigit:           true,
		RequireSpecial:         true,
		RejectCommon:           true,
		RejectPersonalInfo:     true,
		RejectSequential:       false,
		SequenceLength:         3,
		RejectRepeated:         true,
		MaxRepeated:            2,
		RejectKeyboardPatterns: true,
		RejectHistory:          true,
		MinEntropy:             mediumEntropyBits,
		MinUniqueChars:         8,
		MaxAge:                 90 * 24 * time.Hour,
	}
}

// StrictPolicy is DefaultPolicy with sequential-run rejection enabled.
func StrictPolicy() Policy {
	p := DefaultPolicy()
	p.RejectSequential = true
	return p
}

// Hints carry identity data a password must not contain.
type Hints struct {
	Email    string
	Name     string
	Username string
}

// Matcher compares a plaintext candidate with a stored hash.
type Matcher interface {
	Matches(password, encoded string) bool
}

// History is the set of previous password hashes for the identity.
type History struct {
	Hashes  []string
	Matcher Matcher
}

// Result is the outcome of Validate.
type Result struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Strength Strength `json:"strength"`
	Entropy  float64  `json:"entropy"`
}

// Validate runs every enabled rule against candidate. It performs no I/O.
func (p Policy) Validate(candidate string, hints Hints, history History) Result {
	var errs []string
	length := utf8.RuneCountInString(candidate)
	lower := strings.ToLower(candidate)
	classes := classify(candidate)

	if p.MinLength > 0 && length < p.MinLength {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		errs = append(errs, fmt.Sprintf("Password must be at most %d characters long", p.MaxLength))
	}
	if p.RequireUppercase && !classes.upper {
		errs = append(errs, "Password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !classes.lower {
		errs = append(errs, "Password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !classes.digit {
		errs = append(errs, "Password must contain at least one number")
	}
	if p.RequireSpecial && !classes.special {
		errs = append(errs, "Password must contain at least one special character")
	}
	if p.RejectCommon && isCommon(lower) {
		errs = append(errs, "Password is too common")
	}
	if p.RejectPersonalInfo && containsPersonalInfo(lower, hints) {
		errs = append(errs, "Password must not contain personal information")
	}
	if p.RejectSequential && hasSequence(lower, p.sequenceLength()) {
		errs = append(errs, "Password must not contain sequential characters")
	}
	if p.RejectRepeated && hasRepeatRun(candidate, p.maxRepeated()) {
		errs = append(errs, fmt.Sprintf("Password must not contain more than %d identical characters in a row", p.maxRepeated()))
	}
	if p.RejectKeyboardPatterns && hasKeyboardPattern(lower) {
		errs = append(errs, "Password must not contain keyboard patterns")
	}
	if p.RejectHistory && inHistory(candidate, history) {
		errs = append(errs, "Password was used recently")
	}

	entropy := Entropy(candidate)
	if p.MinEntropy > 0 && entropy < p.MinEntropy {
		errs = append(errs, "Password is not complex enough")
	}
	if p.MinUniqueChars > 0 && uniqueRunes(candidate) < p.MinUniqueChars {
		errs = append(errs, fmt.Sprintf("Password must contain at least %d unique characters", p.MinUniqueChars))
	}

	strength := StrengthFor(entropy)
	if len(errs) > 0 {
		strength = StrengthWeak
	}
	return Result{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Strength: strength,
		Entropy:  entropy,
	}
}

// ShouldRotate reports whether a password last changed at lastChangedAt has reached
// the policy's maximum age.
func (p Policy) ShouldRotate(lastChangedAt, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	return !now.Before(lastChangedAt.Add(p.MaxAge))
}

// Generate returns a random password of the given length containing every character
// class. Lengths below the policy minimum are raised to it.
func (p Policy) Generate(length int) (string, error) {
	if length < p.MinLength {
		length = p.MinLength
	}
	if length < 4 {
		length = 4
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		return "", fmt.Errorf("requested length %d exceeds policy maximum %d", length, p.MaxLength)
	}

	structural := p
	structural.RejectHistory = false
	structural.RejectPersonalInfo = false

	const attempts = 64
	for i := 0; i < attempts; i++ {
		candidate, err := generateOnce(length)
		if err != nil {
			return "", err
		}
		if structural.Validate(candidate, Hints{}, History{}).IsValid {
			return candidate, nil
		}
	}
	return "", ErrGenerateExhausted
}

func generateOnce(length int) (string, error) {
	all := lowerChars + upperChars + digitChars + specialChars
	out := make([]byte, 0, length)
	for _, set := range []string{lowerChars, upperChars, digitChars, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates so the guaranteed classes are not always the prefix.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := int(n.Int64())
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

// Entropy estimates bits as length × log2(effective alphabet size).
func Entropy(candidate string) float64 {
	length := utf8.RuneCountInString(candidate)
	if length == 0 {
		return 0
	}
	c := classify(candidate)
	pool := 0
	if c.lower {
		pool += 26
	}
	if c.upper {
		pool += 26
	}
	if c.digit {
		pool += 10
	}
	if c.special {
		pool += 32
	}
	if c.other {
		pool += 100
	}
	if pool == 0 {
		return 0
	}
	bits := float64(length) * math.Log2(float64(pool))
	return math.Round(bits*100) / 100
}

// StrengthFor bands an entropy value.
func StrengthFor(entropy float64) Strength {
	switch {
	case entropy >= veryStrongEntropyBits:
		return StrengthVeryStrong
	case entropy >= strongEntropyBits:
		return StrengthStrong
	case entropy >= mediumEntropyBits:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

type charClasses struct {
	lower, upper, digit, special, other bool
}

func classify(s string) charClasses {
	var c charClasses
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			c.lower = true
		case r >= 'A' && r <= 'Z':
			c.upper = true
		case r >= '0' && r <= '9':
			c.digit = true
		case r < utf8.RuneSelf && (unicode.IsPunct(r) || unicode.IsSymbol(r) || r == ' '):
			c.special = true
		default:
			c.other = true
		}
	}
	return c
}

func (p Policy) sequenceLength() int {
	if p.SequenceLength < 2 {
		return 3
	}
	return p.SequenceLength
}

func (p Policy) maxRepeated() int {
	if p.MaxRepeated < 1 {
		return 2
	}
	return p.MaxRepeated
}

func hasSequence(lower string, n int) bool {
	runes := []rune(lower)
	if len(runes) < n {
		return false
	}
	asc, desc := 1, 1
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		if !isAlnum(prev) || !isAlnum(cur) {
			asc, desc = 1, 1
			continue
		}
		switch cur - prev {
		case 1:
			asc++
			desc = 1
		case -1:
			desc++
			asc = 1
		default:
			asc, desc = 1, 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func hasRepeatRun(s string, maxRun int) bool {
	run := 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > maxRun {
			return true
		}
	}
	return false
}

func hasKeyboardPattern(lower string) bool {
	for _, pattern := range keyboardPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func isCommon(lower string) bool {
	_, ok := commonPasswords[lower]
	return ok
}

func containsPersonalInfo(lower string, hints Hints) bool {
	for _, token := range identityTokens(hints) {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// identityTokens splits hints on whitespace and punctuation. Tokens shorter than three
// characters are ignored; the joined name is included so "Test User" also yields
// "testuser". For email addresses only the local part and the domain label before the
// TLD are used.
func identityTokens(hints Hints) []string {
	var tokens []string
	add := func(parts []string) {
		for _, part := range parts {
			if utf8.RuneCountInString(part) >= 3 {
				tokens = append(tokens, part)
			}
		}
	}
	split := func(s string) []string {
		return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
	}

	if hints.Name != "" {
		parts := split(hints.Name)
		add(parts)
		if len(parts) > 1 {
			add([]string{strings.Join(parts, "")})
		}
	}
	if hints.Username != "" {
		add(split(hints.Username))
		add([]string{strings.ToLower(hints.Username)})
	}
	if hints.Email != "" {
		local, domain, _ := strings.Cut(strings.ToLower(hints.Email), "@")
		add(split(local))
		if labels := strings.Split(domain, "."); len(labels) > 1 {
			add(split(strings.Join(labels[:len(labels)-1], ".")))
		}
	}
	return tokens
}

func inHistory(candidate string, history History) bool {
	if history.Matcher == nil {
		return false
	}
	for _, hash := range history.Hashes {
		if history.Matcher.Matches(candidate, hash) {
			return true
		}
	}
	return false
}

func uniqueRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
