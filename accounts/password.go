package accounts

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is lowered by tests.
var bcryptCost = 14

// bcryptMaxBytes is the longest input bcrypt accepts.
const bcryptMaxBytes = 72

// bcryptInput digests passwords bcrypt would reject for length.
func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxBytes {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(bcryptInput(password), bcryptCost)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password))
	return err == nil
}

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxSimilarity     = 0.7
)

var commonPasswords = map[string]struct{}{}

func init() {
	for _, p := range strings.Fields(`
		password password1 password12 password123 passw0rd p@ssw0rd 12345678 123456789
		1234567890 11111111 00000000 87654321 qwertyui qwerty123 qwertyuiop asdfghjk
		asdfghjkl zxcvbnm1 1q2w3e4r 1qaz2wsx abc12345 abcd1234 iloveyou letmein1
		welcome1 welcome123 sunshine princess football baseball superman batman1
		trustno1 starwars whatever computer michelle jennifer dragon12 monkey12
		master12 shadow12 access14 freedom1 changeme admin123 administrator
		secret123 mustang1 chocolate internet liverpool corvette
	`) {
		commonPasswords[p] = struct{}{}
	}
}

var allDigits = regexp.MustCompile(`^[0-9]+$`)

// passwordRules mirrors the usual strength checks: length, not all digits,
// not a well-known password and not too close to the account's own details.
func passwordRules(attributes ...string) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("Password is required."),
		validation.RuneLength(minPasswordLength, maxPasswordLength).
			Error("This password must contain between 8 and 128 characters."),
		validation.By(func(value interface{}) error {
			password, _ := value.(string)
			if allDigits.MatchString(password) {
				return validation.NewError("password_entirely_numeric", "This password is entirely numeric.")
			}
			if _, ok := commonPasswords[strings.ToLower(password)]; ok {
				return validation.NewError("password_too_common", "This password is too common.")
			}
			if tooSimilar(password, attributes...) {
				return validation.NewError("password_too_similar", "The password is too similar to your personal information.")
			}
			return nil
		}),
	}
}

var nonWord = regexp.MustCompile(`\W+`)

func tooSimilar(password string, attributes ...string) bool {
	password = strings.ToLower(password)
	for _, attr := range attributes {
		attr = strings.ToLower(attr)
		if attr == "" {
			continue
		}
		parts := append([]string{attr}, nonWord.Split(attr, -1)...)
		for _, part := range parts {
			if len(part) < 3 {
				continue
			}
			if similarity(password, part) >= maxSimilarity {
				return true
			}
		}
	}
	return false
}

// similarity is 2*LCS/(len(a)+len(b)), in [0, 1].
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return 2 * float64(prev[len(rb)]) / float64(len(ra)+len(rb))
}
