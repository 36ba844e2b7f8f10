package detectors

import (
	"strings"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

// ReadFileDetector flags arbitrary file reads and forceful browsing.
type ReadFileDetector struct{}

func NewReadFileDetector() *ReadFileDetector {
	return &ReadFileDetector{}
}

func (d *ReadFileDetector) Name() string {
	return "readFile"
}

var readFileRules = []engine.Rule[*engine.ReadFileEvent]{
	{
		// Only the JVM agent serves static files through a hookable read.
		Algorithm: "readFile_forceful",
		Match: func(e *engine.ReadFileEvent, rc *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if !strings.EqualFold(rc.Language, "java") || rc.URL == "" {
				return engine.Finding{}, false
			}
			name := basename(rc.URL)
			if name == "" || name != basename(e.RealPath) {
				return engine.Finding{}, false
			}
			if !dotFilesRegex.MatchString(name) && !entry.List("filenames").Has(name) {
				return engine.Finding{}, false
			}
			confidence := 90
			if rc.NormalizedMethod() == "head" {
				confidence = 100
			}
			return engine.Finding{
				Message:    "forceful browsing, downloading sensitive file (" + strings.ToUpper(rc.Method) + "): " + e.RealPath,
				Confidence: confidence,
			}, true
		},
	},
	{
		Algorithm:  "readFile_unwanted",
		Confidence: 90,
		Match: func(e *engine.ReadFileEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if !entry.List("paths").Has(strings.ToLower(e.RealPath)) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "webshell file manager, reading system file " + e.RealPath}, true
		},
	},
	{
		Algorithm:  "readFile_traversal",
		Confidence: 90,
		Match: func(e *engine.ReadFileEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !IsOutsideWebroot(rc.AppBasePath, e.RealPath, e.Path) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "path traversal outside the web root " + rc.AppBasePath}, true
		},
	},
	{
		Algorithm:  "readFile_userinput",
		Confidence: 90,
		Match: func(e *engine.ReadFileEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if e.Path == "" || !rc.Parameters.HasFirstValue(e.Path) {
				return engine.Finding{}, false
			}
			if IsAbsolutePath(e.Path, rc.OS) {
				return engine.Finding{Message: "arbitrary file download, absolute path from user input: " + e.RealPath}, true
			}
			if HasTraversal(e.Path) {
				return engine.Finding{Message: "arbitrary file download, relative path from user input: " + e.RealPath}, true
			}
			return engine.Finding{}, false
		},
	},
	{
		Algorithm:  "readFile_userinput_http",
		Requires:   "readFile_userinput",
		Confidence: 90,
		Match: func(e *engine.ReadFileEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			lower := strings.ToLower(e.Path)
			if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
				return engine.Finding{}, false
			}
			if !rc.Parameters.HasFirstValue(e.Path) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "arbitrary file read of user supplied URL " + e.Path}, true
		},
	},
	{
		Algorithm:  "readFile_userinput_file",
		Requires:   "readFile_userinput",
		Confidence: 90,
		Match: func(e *engine.ReadFileEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !strings.HasPrefix(strings.ToLower(e.Path), "file://") {
				return engine.Finding{}, false
			}
			if !rc.Parameters.HasFirstValue(e.Path) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "arbitrary file read of user supplied file URL " + e.Path}, true
		},
	},
}

func (d *ReadFileDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.ReadFileEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(readFileRules, e, rc, m)
}
