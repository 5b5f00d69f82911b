package secrets

// DefaultRules returns the default set of secret detection rules.
// Oriented toward what Salesforce developers actually paste into chat:
// session IDs, connected-app credentials, sfdx auth URLs, and the usual
// cloud/API tokens.
func DefaultRules() []Rule {
	return []Rule{
		// Salesforce
		{
			ID:          "sfdc-session-id",
			Description: "Salesforce Session ID",
			Pattern:     `00D[a-zA-Z0-9]{12,15}![a-zA-Z0-9._]{40,120}`,
			Severity:    "high",
		},
		{
			ID:          "sfdx-auth-url",
			Description: "SFDX Force Auth URL",
			Pattern:     `force://[A-Za-z0-9._]+:[A-Za-z0-9._]*:[A-Za-z0-9._!]+@[A-Za-z0-9.-]+`,
			Severity:    "high",
		},
		{
			ID:          "sfdc-security-token",
			Description: "Salesforce Security Token",
			Pattern:     `(?i)(?:security[_-]?token)\s*[:=]\s*['"]?([A-Za-z0-9]{20,32})['"]?`,
			Keywords:    []string{"token"},
			Severity:    "high",
		},

		// Generic credentials
		{
			ID:          "generic-api-key",
			Description: "Generic API Key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{16,64})['"]?`,
			Keywords:    []string{"api", "key"},
			Severity:    "high",
		},
		{
			ID:          "generic-secret",
			Description: "Generic Secret",
			Pattern:     `(?i)(?:client_secret|consumer_secret|password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})['"]?`,
			Keywords:    []string{"secret", "password"},
			Severity:    "high",
		},
		{
			ID:          "bearer-token",
			Description: "Bearer Token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9._\-]{20,}`,
			Keywords:    []string{"bearer"},
			Severity:    "medium",
		},

		// Private keys (connected-app JWT flows carry these)
		{
			ID:          "private-key",
			Description: "Private Key",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Severity:    "high",
		},

		// GitHub (prefixes are self-identifying)
		{
			ID:          "github-token",
			Description: "GitHub Personal Access Token",
			Pattern:     `ghp_[A-Za-z0-9]{36}`,
			Severity:    "high",
		},
		{
			ID:          "github-fine-grained",
			Description: "GitHub Fine-Grained Token",
			Pattern:     `github_pat_[A-Za-z0-9_]{82}`,
			Severity:    "high",
		},

		// Cloud providers
		{
			ID:          "aws-access-key-id",
			Description: "AWS Access Key ID",
			Pattern:     `(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Keywords:    []string{"aws", "akia", "asia"},
			Severity:    "high",
		},
		{
			ID:          "ibmcloud-api-key",
			Description: "IBM Cloud API Key",
			Pattern:     `(?i)(?:ibm[_-]?cloud[_-]?api[_-]?key|iam[_-]?api[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{40,60})['"]?`,
			Keywords:    []string{"ibm", "iam"},
			Severity:    "high",
		},

		// Jira / Atlassian
		{
			ID:          "atlassian-api-token",
			Description: "Atlassian API Token",
			Pattern:     `ATATT[A-Za-z0-9_\-=]{50,}`,
			Severity:    "high",
		},
	}
}
