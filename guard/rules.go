package guard

import (
	"fmt"
	"os"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLoginPath             = "/login"
	DefaultPhoneVerificationPath = "/sign-up/phone-verification"
	DefaultHome                  = "/"
	DefaultMaxNextLength         = 512
)

// DefaultCallbackParams must all be present on the app root for a request
// to count as an identity provider callback.
var DefaultCallbackParams = []string{"code", "state", "liffClientId"}

// Rules is the route rule table consulted by the guard. Patterns are either
// an exact path or "/prefix/*", which matches "/prefix" and everything below.
type Rules struct {
	Protected             []string `yaml:"protected"`
	AuthEntry             []string `yaml:"auth_entry"`
	LoginPath             string   `yaml:"login_path"`
	PhoneVerificationPath string   `yaml:"phone_verification_path"`
	Home                  string   `yaml:"home"`
	MaxNextLength         int      `yaml:"max_next_length"`
	CallbackParams        []string `yaml:"callback_params"`
}

// DefaultRules returns the portal route table.
func DefaultRules() Rules {
	return Rules{
		Protected: []string{
			"/users/me",
			"/users/me/*",
			"/wallets/*",
			"/tickets/*",
			"/reservations/*",
			"/credentials/*",
			"/admin/*",
		},
		AuthEntry: []string{
			"/login",
			"/sign-up",
			"/sign-up/*",
		},
		LoginPath:             DefaultLoginPath,
		PhoneVerificationPath: DefaultPhoneVerificationPath,
		Home:                  DefaultHome,
		MaxNextLength:         DefaultMaxNextLength,
		CallbackParams:        append([]string(nil), DefaultCallbackParams...),
	}
}

// LoadRules reads a YAML rule table from path. Missing scalar settings
// fall back to DefaultRules; pattern lists are taken as written.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, goerrors.Wrap(err, goerrors.CategoryNotFound, "read route rules").
			WithMetadata(map[string]any{"path": path})
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule table.
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, goerrors.Wrap(err, goerrors.CategoryValidation, "decode route rules").
			WithTextCode("ROUTE_RULES_INVALID")
	}
	rules = rules.withDefaults()
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks every pattern is rooted and wildcards only appear as a
// trailing "/*".
func (r Rules) Validate() error {
	fields := map[string]any{}
	check := func(name string, patterns []string) {
		for i, p := range patterns {
			if err := validatePattern(p); err != nil {
				fields[fmt.Sprintf("%s[%d]", name, i)] = err.Error()
			}
		}
	}
	check("protected", r.Protected)
	check("auth_entry", r.AuthEntry)
	for name, p := range map[string]string{
		"login_path":              r.LoginPath,
		"phone_verification_path": r.PhoneVerificationPath,
		"home":                    r.Home,
	} {
		if !strings.HasPrefix(p, "/") {
			fields[name] = "must start with /"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return goerrors.New("invalid route rules", goerrors.CategoryValidation).
		WithTextCode("ROUTE_RULES_INVALID").
		WithMetadata(map[string]any{"fields": fields})
}

// IsProtected reports whether path requires a registered user.
func (r Rules) IsProtected(path string) bool {
	return matchAny(r.Protected, path)
}

// IsAuthEntry reports whether path is a login or sign-up page.
func (r Rules) IsAuthEntry(path string) bool {
	if matchAny(r.AuthEntry, path) {
		return true
	}
	path = cleanPath(path)
	return path == cleanPath(r.LoginPath) || path == cleanPath(r.PhoneVerificationPath)
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if r.LoginPath == "" {
		r.LoginPath = def.LoginPath
	}
	if r.PhoneVerificationPath == "" {
		r.PhoneVerificationPath = def.PhoneVerificationPath
	}
	if r.Home == "" {
		r.Home = def.Home
	}
	if r.MaxNextLength <= 0 {
		r.MaxNextLength = def.MaxNextLength
	}
	if len(r.CallbackParams) == 0 {
		r.CallbackParams = def.CallbackParams
	}
	return r
}

func validatePattern(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("pattern %q must start with /", p)
	}
	if i := strings.Index(p, "*"); i >= 0 && (i != len(p)-1 || !strings.HasSuffix(p, "/*")) {
		return fmt.Errorf("pattern %q may only end in /*", p)
	}
	return nil
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchPattern(p, path) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether path matches pattern. Trailing slashes are
// ignored on both sides.
func MatchPattern(pattern, path string) bool {
	path = cleanPath(path)
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		prefix = cleanPath(prefix)
		if prefix == "/" {
			return true
		}
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == cleanPath(pattern)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
