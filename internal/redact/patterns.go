package redact

import "strings"

// Severity classifies how damaging a leaked match would be.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Pattern is one redaction rule. Patterns are evaluated in registration
// order; the placeholder encodes only the name, never the matched value.
type Pattern struct {
	Name        string
	Pattern     string
	Description string
	Severity    Severity
}

// BuiltinPatterns returns the default pattern table. Organization
// patterns from config are appended after these, so builtins take
// precedence on overlapping spans.
func BuiltinPatterns() []Pattern {
	return []Pattern{
		{"SQLConnectionString", `(?i)(?:Server|Data Source|Initial Catalog|User ID|Password|Pwd)\s*=\s*[^;\s]+`, "SQL Server connection string fragment", SeverityCritical},
		{"MongoDBConnectionString", `mongodb(?:\+srv)?://\S+`, "MongoDB connection URI", SeverityCritical},
		{"RedisConnectionString", `redis://\S+`, "Redis connection URI", SeverityCritical},
		{"PostgreSQLConnectionString", `postgres(?:ql)?://\S+`, "PostgreSQL connection URI", SeverityCritical},
		{"MySQLConnectionString", `mysql://\S+`, "MySQL connection URI", SeverityCritical},
		{"URLCredentials", `[a-zA-Z][a-zA-Z0-9+.\-]*://[^/\s:@]+:[^/\s@]+@`, "userinfo credentials embedded in a URL", SeverityCritical},
		{"JWTToken", `eyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`, "JSON Web Token", SeverityCritical},
		{"BearerToken", `(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`, "HTTP bearer token", SeverityCritical},
		{"AuthorizationHeader", `(?i)authorization:\s*\S+`, "Authorization header value", SeverityCritical},
		{"APIKeyHeader", `(?i)(?:x-api-key|api-key):\s*\S+`, "API key header value", SeverityCritical},
		{"AWSAccessKey", `\bAKIA[0-9A-Z]{16}\b`, "AWS access key id", SeverityCritical},
		{"AzureConnectionString", `(?i)(?:DefaultEndpointsProtocol|AccountName|AccountKey|SharedAccessSignature)=[^;\s]+`, "Azure storage connection fragment", SeverityCritical},
		{"APIKey", `(?i)(?:api[_\-]?key|access[_\-]?key)["'\s:=]+[A-Za-z0-9\-_]{16,}`, "labeled API key", SeverityCritical},
		{"GenericSecret", `(?i)(?:secret|password|passwd|pwd|token)["'\s:=]+\S{8,}`, "labeled secret value", SeverityCritical},
		{"PrivateKey", `-----BEGIN [A-Z ]*PRIVATE KEY-----`, "PEM private key header", SeverityCritical},
		{"Certificate", `-----BEGIN CERTIFICATE-----`, "PEM certificate header", SeverityWarning},
		{"SSNUS", `\b\d{3}-\d{2}-\d{4}\b`, "US social security number", SeverityCritical},
		{"CreditCard", `\b(?:\d[ \-]?){13,16}\b`, "payment card number", SeverityCritical},
		{"EmailAddress", `\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, "email address", SeverityWarning},
		{"PhoneNumberUS", `\b(?:\+?1[\-. ]?)?\(?\d{3}\)?[\-. ]\d{3}[\-. ]\d{4}\b`, "US phone number", SeverityWarning},
		{"WindowsCredential", `(?i)(?:net use|runas|/user:)\s+\S+`, "Windows credential on a command line", SeverityWarning},
		{"SessionID", `(?i)(?:session[_\-]?id|sessid)["'\s:=]+[A-Za-z0-9\-_]{8,}`, "session identifier", SeverityWarning},
		{"PrivateIPv4", `\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3})\b`, "RFC 1918 address", SeverityInfo},
		{"InternalPath", `\\\\[A-Za-z0-9._\-]+\\\S+`, "UNC path to an internal share", SeverityInfo},
	}
}

// validators holds extra checks applied after a regex match. A match that
// fails its validator is ignored, which keeps the SSN and card patterns
// from firing on ordinary numeric report columns.
var validators = map[string]func(string) bool{
	"SSNUS":      validSSN,
	"CreditCard": validCardNumber,
}

// validSSN applies the SSA issuance rules: area not 000, 666 or 900-999,
// group not 00, serial not 0000.
func validSSN(s string) bool {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// validCardNumber strips separators and runs the Luhn check.
func validCardNumber(s string) bool {
	var digits []int
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 16 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
