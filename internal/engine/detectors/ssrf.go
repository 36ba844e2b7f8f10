package detectors

import (
	"regexp"
	"strings"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// cloudMetadataHost is the link-local metadata endpoint of AWS and most clouds.
const cloudMetadataHost = "169.254.169.254"

var intranetIPRegex = regexp.MustCompile(`^(192|172|10)\.`)

// SSRFDetector flags outbound requests steered to internal or scanner hosts.
type SSRFDetector struct{}

func NewSSRFDetector() *SSRFDetector {
	return &SSRFDetector{}
}

func (d *SSRFDetector) Name() string {
	return "ssrf"
}

var ssrfRules = []engine.Rule[*engine.SSRFEvent]{
	{
		Algorithm:  "ssrf_userinput",
		Confidence: 100,
		Match: func(e *engine.SSRFEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if len(e.IPs) == 0 || !intranetIPRegex.MatchString(e.IPs[0]) {
				return engine.Finding{}, false
			}
			if !rc.Parameters.HasFirstValue(e.URL) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "SSRF - access to intranet address " + e.IPs[0] + " from user input"}, true
		},
	},
	{
		Algorithm:  "ssrf_common",
		Confidence: 100,
		Match: func(e *engine.SSRFEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if !isScannerHost(e.Hostname, entry) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "SSRF - known scanner domain " + e.Hostname}, true
		},
	},
	{
		Algorithm:  "ssrf_aws",
		Confidence: 100,
		Match: func(e *engine.SSRFEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if e.Hostname != cloudMetadataHost {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "SSRF - cloud metadata access"}, true
		},
	},
	{
		Algorithm:  "ssrf_obfuscate",
		Confidence: 100,
		Match: func(e *engine.SSRFEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			switch {
			case isAllDigits(e.Hostname):
				return engine.Finding{Message: "SSRF - obfuscated IP, decimal encoded host " + e.Hostname}, true
			case strings.HasPrefix(e.Hostname, "0x") && !strings.Contains(e.Hostname, "."):
				return engine.Finding{Message: "SSRF - obfuscated IP, hex encoded host " + e.Hostname}, true
			}
			return engine.Finding{}, false
		},
	},
	{
		Algorithm:  "ssrf_file",
		Confidence: 100,
		Match: func(e *engine.SSRFEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !strings.HasPrefix(strings.ToLower(e.URL), "file://") {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "SSRF - file protocol read via network primitive: " + e.URL}, true
		},
	},
}

func (d *SSRFDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.SSRFEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(ssrfRules, e, rc, m)
}

// isScannerHost matches the exact scanner hostnames and the DNS-log domain suffixes.
func isScannerHost(hostname string, entry engine.Entry) bool {
	if hostname == "" {
		return false
	}
	if entry.List("hostnames").Has(hostname) {
		return true
	}
	for domain := range entry.List("domains") {
		if domain != "" && strings.HasSuffix(hostname, domain) {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
