// Package validate normalizes and checks user-supplied form input. Field
// checks run every rule so a Result lists each violation, not just the first.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator"
)

// Issue is one violated rule.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result collects the issues found while validating a value or record.
type Result struct {
	Issues []Issue `json:"issues,omitempty"`
}

// OK reports whether no rule was violated.
func (r Result) OK() bool { return len(r.Issues) == 0 }

// Messages returns the issue messages for path, in rule order.
func (r Result) Messages(path string) []string {
	var out []string
	for _, is := range r.Issues {
		if is.Path == path {
			out = append(out, is.Message)
		}
	}
	return out
}

// Fields groups messages by path, the shape handlers return as JSON.
func (r Result) Fields() map[string][]string {
	if r.OK() {
		return nil
	}
	out := make(map[string][]string)
	for _, is := range r.Issues {
		out[is.Path] = append(out[is.Path], is.Message)
	}
	return out
}

func (r *Result) merge(other Result) {
	r.Issues = append(r.Issues, other.Issues...)
}

type rule struct {
	tag     string
	message string
}

var (
	fullNamePattern = regexp.MustCompile(`^[a-zA-Z\s\-']+$`)
	phonePattern    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	custom := map[string]func(string) bool{
		"hasupper":  containsRune(unicode.IsUpper),
		"haslower":  containsRune(unicode.IsLower),
		"hasdigit":  containsRune(unicode.IsDigit),
		"hassymbol": containsRune(func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }),
		"fullname":  fullNamePattern.MatchString,
		"phone":     phonePattern.MatchString,
	}
	for tag, fn := range custom {
		if err := val.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return fn(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	}
	return val
}

func containsRune(pred func(rune) bool) func(string) bool {
	return func(s string) bool { return strings.IndexFunc(s, pred) >= 0 }
}

// check runs every rule against value and reports each failure under path.
func check(path, value string, rules []rule) Result {
	var res Result
	for _, r := range rules {
		if err := v.Var(value, r.tag); err != nil {
			res.Issues = append(res.Issues, Issue{Path: path, Message: r.message})
		}
	}
	return res
}

var (
	emailRules = []rule{
		{"required", "Email is required"},
		{"email", "Invalid email address"},
		{"max=255", "Email must be at most 255 characters"},
	}
	newPasswordRules = []rule{
		{"min=12", "Password must be at least 12 characters"},
		{"max=128", "Password must be at most 128 characters"},
		{"hasupper", "Password must contain at least one uppercase letter"},
		{"haslower", "Password must contain at least one lowercase letter"},
		{"hasdigit", "Password must contain at least one number"},
		{"hassymbol", "Password must contain at least one special character"},
	}
	signInPasswordRules = []rule{
		{"required", "Password is required"},
		{"max=128", "Password must be at most 128 characters"},
	}
	fullNameRules = []rule{
		{"min=2", "Full name must be at least 2 characters"},
		{"max=100", "Full name must be at most 100 characters"},
		{"fullname", "Full name can only contain letters, spaces, hyphens, and apostrophes"},
	}
	companyRules = []rule{
		{"min=2", "Company name must be at least 2 characters"},
		{"max=200", "Company name must be at most 200 characters"},
	}
	phoneRules = []rule{
		{"phone", "Invalid phone number"},
	}
)

// Email trims and lowercases raw before checking it.
func Email(raw string) (string, Result) {
	email := strings.ToLower(strings.TrimSpace(raw))
	return email, check("email", email, emailRules)
}

// NewPassword applies the strength policy for passwords being set.
func NewPassword(raw string) Result {
	return check("password", raw, newPasswordRules)
}

// SignInPassword only requires a bounded non-empty value so passwords set
// under an older policy still authenticate.
func SignInPassword(raw string) Result {
	return check("password", raw, signInPasswordRules)
}

func FullName(raw string) (string, Result) {
	name := strings.TrimSpace(raw)
	return name, check("fullName", name, fullNameRules)
}

// Company is optional: nil or blank input yields nil.
func Company(raw *string) (*string, Result) {
	return optional("company", raw, companyRules)
}

// Phone is optional: nil or blank input yields nil.
func Phone(raw *string) (*string, Result) {
	return optional("phone", raw, phoneRules)
}

func optional(path string, raw *string, rules []rule) (*string, Result) {
	if raw == nil {
		return nil, Result{}
	}
	val := strings.TrimSpace(*raw)
	if val == "" {
		return nil, Result{}
	}
	return &val, check(path, val, rules)
}
