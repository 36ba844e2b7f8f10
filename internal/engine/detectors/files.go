package detectors

import "github.com/triage-ai/palisade-rasp/internal/engine"

// WriteFileDetector flags script and NTFS stream writes.
type WriteFileDetector struct{}

func NewWriteFileDetector() *WriteFileDetector {
	return &WriteFileDetector{}
}

func (d *WriteFileDetector) Name() string {
	return "writeFile"
}

var writeFileRules = []engine.Rule[*engine.WriteFileEvent]{
	{
		Algorithm:  "writeFile_NTFS",
		Confidence: 90,
		Match: func(e *engine.WriteFileEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !IsNTFSStream(e.RealPath) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "backdoor upload through NTFS stream " + e.RealPath}, true
		},
	},
	{
		Algorithm:  "writeFile_PUT_script",
		Confidence: 90,
		Match: func(e *engine.WriteFileEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if rc.NormalizedMethod() != "put" || !IsScriptFile(e.RealPath) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "script file uploaded with PUT " + e.RealPath}, true
		},
	},
	{
		Algorithm:  "writeFile_script",
		Confidence: 90,
		Match: func(e *engine.WriteFileEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !IsScriptFile(e.RealPath) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "writing script file " + e.RealPath}, true
		},
	},
}

func (d *WriteFileDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.WriteFileEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(writeFileRules, e, rc, m)
}

// FileUploadDetector flags multipart uploads of scripts and server config files.
type FileUploadDetector struct{}

func NewFileUploadDetector() *FileUploadDetector {
	return &FileUploadDetector{}
}

func (d *FileUploadDetector) Name() string {
	return "fileUpload"
}

var fileUploadRules = []engine.Rule[*engine.FileUploadEvent]{
	{
		Algorithm:  "fileUpload_multipart",
		Confidence: 90,
		Match: func(e *engine.FileUploadEvent, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
			if IsScriptFile(e.Filename) || IsNTFSStream(e.Filename) {
				return engine.Finding{Message: "script file upload " + e.Filename}, true
			}
			if entry.List("filenames").Has(e.Filename) {
				return engine.Finding{Message: "server configuration file upload " + e.Filename}, true
			}
			return engine.Finding{}, false
		},
	},
}

func (d *FileUploadDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.FileUploadEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(fileUploadRules, e, rc, m)
}

// becomesScript reports a move of a non-script file onto a script name,
// the usual way an uploaded webshell is put in place.
func becomesScript(source, dest string) bool {
	return !IsScriptFile(source) && IsScriptFile(dest)
}

// WebdavDetector flags WebDAV COPY/MOVE turning a file into a script.
type WebdavDetector struct{}

func NewWebdavDetector() *WebdavDetector {
	return &WebdavDetector{}
}

func (d *WebdavDetector) Name() string {
	return "webdav"
}

var webdavRules = []engine.Rule[*engine.WebdavEvent]{
	{
		Algorithm:  "fileUpload_webdav",
		Confidence: 100,
		Match: func(e *engine.WebdavEvent, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !becomesScript(e.Source, e.Dest) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "script file uploaded via WebDAV " + rc.Method + ": " + e.Dest}, true
		},
	},
}

func (d *WebdavDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.WebdavEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(webdavRules, e, rc, m)
}

// RenameDetector flags renames turning a file into a script.
type RenameDetector struct{}

func NewRenameDetector() *RenameDetector {
	return &RenameDetector{}
}

func (d *RenameDetector) Name() string {
	return "rename"
}

var renameRules = []engine.Rule[*engine.RenameEvent]{
	{
		Algorithm:  "rename_webshell",
		Confidence: 100,
		Match: func(e *engine.RenameEvent, _ *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
			if !becomesScript(e.Source, e.Dest) {
				return engine.Finding{}, false
			}
			return engine.Finding{Message: "webshell planted by rename, source " + e.Source}, true
		},
	},
}

func (d *RenameDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.RenameEvent)
	if !ok || e == nil {
		return engine.Clean
	}
	return engine.RunRules(renameRules, e, rc, m)
}
