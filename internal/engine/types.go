package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is the enforcement decision reported for an operation.
type Action int

const (
	ActionIgnore Action = iota
	ActionLog
	ActionBlock
)

// String returns the lowercase action name used in configuration and on the wire.
func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionBlock:
		return "block"
	default:
		return "ignore"
	}
}

// ParseAction converts a configuration string into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore", "":
		return ActionIgnore, nil
	case "log":
		return ActionLog, nil
	case "block":
		return ActionBlock, nil
	default:
		return ActionIgnore, fmt.Errorf("unknown action %q", s)
	}
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Kind identifies the hooked operation an Event describes.
type Kind string

const (
	KindSQL             Kind = "sql"
	KindSSRF            Kind = "ssrf"
	KindDirectory       Kind = "directory"
	KindReadFile        Kind = "readFile"
	KindWriteFile       Kind = "writeFile"
	KindFileUpload      Kind = "fileUpload"
	KindWebdav          Kind = "webdav"
	KindRename          Kind = "rename"
	KindInclude         Kind = "include"
	KindCommand         Kind = "command"
	KindXXE             Kind = "xxe"
	KindOGNL            Kind = "ognl"
	KindDeserialization Kind = "deserialization"
)

// Kinds lists every operation kind the engine understands.
var Kinds = []Kind{
	KindSQL, KindSSRF, KindDirectory, KindReadFile, KindWriteFile, KindFileUpload,
	KindWebdav, KindRename, KindInclude, KindCommand, KindXXE, KindOGNL, KindDeserialization,
}

// Verdict is the outcome of inspecting one operation.
type Verdict struct {
	Action     Action `json:"action"`
	Message    string `json:"message"`
	Confidence int    `json:"confidence"` // 0 – 100

	// Algorithm is the matrix entry that produced the verdict; empty when clean.
	Algorithm string `json:"algorithm,omitempty"`
}

// CleanMessage is the fixed message carried by the clean verdict.
const CleanMessage = "no risk"

// Clean is the verdict returned when nothing suspicious was found.
var Clean = Verdict{Action: ActionIgnore, Message: CleanMessage, Confidence: 0}

// IsClean reports whether v is the clean verdict.
func (v Verdict) IsClean() bool {
	return v.Action == ActionIgnore
}

// Event is one inspected operation. Each kind has its own concrete type.
type Event interface {
	Kind() Kind
}

// SQLEvent is a query about to be executed. Server is the dialect tag (mysql, pgsql, ...).
type SQLEvent struct {
	Query  string `mapstructure:"query" json:"query"`
	Server string `mapstructure:"server" json:"server"`
}

// SSRFEvent is an outbound network request. IPs holds the resolved addresses.
type SSRFEvent struct {
	Hostname string   `mapstructure:"hostname" json:"hostname"`
	URL      string   `mapstructure:"url" json:"url"`
	IPs      []string `mapstructure:"ip" json:"ip"`
}

// DirectoryEvent is a directory listing.
type DirectoryEvent struct {
	Path     string `mapstructure:"path" json:"path"`
	RealPath string `mapstructure:"realpath" json:"realpath"`
}

// ReadFileEvent is a file read.
type ReadFileEvent struct {
	Path     string `mapstructure:"path" json:"path"`
	RealPath string `mapstructure:"realpath" json:"realpath"`
}

// WriteFileEvent is a file write.
type WriteFileEvent struct {
	Path     string `mapstructure:"path" json:"path"`
	RealPath string `mapstructure:"realpath" json:"realpath"`
}

// FileUploadEvent is a multipart upload received by the application.
type FileUploadEvent struct {
	Name     string `mapstructure:"name" json:"name"`
	Filename string `mapstructure:"filename" json:"filename"`
}

// WebdavEvent is a WebDAV COPY or MOVE.
type WebdavEvent struct {
	Source string `mapstructure:"source" json:"source"`
	Dest   string `mapstructure:"dest" json:"dest"`
}

// RenameEvent is a filesystem rename.
type RenameEvent struct {
	Source string `mapstructure:"source" json:"source"`
	Dest   string `mapstructure:"dest" json:"dest"`
}

// IncludeEvent is a file include (include/require, jsp:include, ...).
type IncludeEvent struct {
	URL      string `mapstructure:"url" json:"url"`
	RealPath string `mapstructure:"realpath" json:"realpath"`
	Function string `mapstructure:"function" json:"function"`
}

// CommandEvent is a process execution.
type CommandEvent struct {
	Command string `mapstructure:"command" json:"command"`
}

// XXEEvent is an external entity resolution by an XML parser.
type XXEEvent struct {
	Entity string `mapstructure:"entity" json:"entity"`
}

// OGNLEvent is an OGNL expression evaluation.
type OGNLEvent struct {
	Expression string `mapstructure:"expression" json:"expression"`
}

// DeserializationEvent is a class being instantiated during deserialization.
type DeserializationEvent struct {
	Class string `mapstructure:"clazz" json:"clazz"`
}

func (*SQLEvent) Kind() Kind             { return KindSQL }
func (*SSRFEvent) Kind() Kind            { return KindSSRF }
func (*DirectoryEvent) Kind() Kind       { return KindDirectory }
func (*ReadFileEvent) Kind() Kind        { return KindReadFile }
func (*WriteFileEvent) Kind() Kind       { return KindWriteFile }
func (*FileUploadEvent) Kind() Kind      { return KindFileUpload }
func (*WebdavEvent) Kind() Kind          { return KindWebdav }
func (*RenameEvent) Kind() Kind          { return KindRename }
func (*IncludeEvent) Kind() Kind         { return KindInclude }
func (*CommandEvent) Kind() Kind         { return KindCommand }
func (*XXEEvent) Kind() Kind             { return KindXXE }
func (*OGNLEvent) Kind() Kind            { return KindOGNL }
func (*DeserializationEvent) Kind() Kind { return KindDeserialization }

// RequestContext is a read-only snapshot of the request that triggered the operation.
type RequestContext struct {
	Parameters  Params            `json:"parameter"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"header"`
	URL         string            `json:"url"`
	AppBasePath string            `json:"appBasePath"`
	Language    string            `json:"language"`
	OS          string            `json:"os"`

	// Stack is the call stack at the hook, innermost frame first.
	Stack []string `json:"stack"`
}

// NormalizedMethod returns the lowercase HTTP method.
func (rc *RequestContext) NormalizedMethod() string {
	if rc == nil {
		return ""
	}
	return strings.ToLower(rc.Method)
}
