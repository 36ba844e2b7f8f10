package detectors

import (
	"testing"

	"github.com/triage-ai/palisade-rasp/internal/engine"
)

func TestFileUploadDetector(t *testing.T) {
	tests := []struct {
		filename string
		blocked  bool
	}{
		{"shell.php", true},
		{"image.jpg", false},
		{"shell.jsp", true},
		{"shell.asp::$DATA", true},
		{".htaccess", true},
		{".user.ini", true},
		{"notes.txt", false},
		{"", false},
	}
	d := NewFileUploadDetector()
	m := testMatrix(t, map[string]string{"fileUpload_multipart": "block"})
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			v := d.Detect(&engine.FileUploadEvent{Name: "file", Filename: tt.filename}, &engine.RequestContext{}, m)
			if tt.blocked {
				assertVerdict(t, v, engine.ActionBlock, "fileUpload_multipart", 90)
			} else {
				assertClean(t, v)
			}
		})
	}
}

func TestWriteFileDetector(t *testing.T) {
	tests := []struct {
		name      string
		realPath  string
		method    string
		action    engine.Action
		algorithm string
	}{
		{"ntfs stream", `C:\inetpub\shell.aspx::$DATA`, "post", engine.ActionBlock, "writeFile_NTFS"},
		{"put script", "/var/www/shell.jsp", "PUT", engine.ActionBlock, "writeFile_PUT_script"},
		{"script write is logged", "/var/www/cache.php", "post", engine.ActionLog, "writeFile_script"},
		{"plain file", "/var/www/upload/a.png", "put", engine.ActionIgnore, ""},
	}
	d := NewWriteFileDetector()
	m := testMatrix(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Detect(&engine.WriteFileEvent{Path: tt.realPath, RealPath: tt.realPath}, &engine.RequestContext{Method: tt.method}, m)
			if tt.action == engine.ActionIgnore {
				assertClean(t, v)
				return
			}
			assertVerdict(t, v, tt.action, tt.algorithm, 90)
		})
	}
}

func TestRenameAndWebdav(t *testing.T) {
	tests := []struct {
		source, dest string
		flagged      bool
	}{
		{"/upload/a.txt", "/upload/a.php", true},
		{"/upload/a.jpg", "/upload/a.jsp", true},
		{"/upload/a.php", "/upload/b.php", false},
		{"/upload/a.php", "/upload/a.txt", false},
		{"/upload/a.txt", "/upload/b.txt", false},
	}
	m := testMatrix(t, nil)
	for _, tt := range tests {
		t.Run(tt.source+"->"+tt.dest, func(t *testing.T) {
			rv := NewRenameDetector().Detect(&engine.RenameEvent{Source: tt.source, Dest: tt.dest}, &engine.RequestContext{}, m)
			wv := NewWebdavDetector().Detect(&engine.WebdavEvent{Source: tt.source, Dest: tt.dest}, &engine.RequestContext{Method: "MOVE"}, m)
			if !tt.flagged {
				assertClean(t, rv)
				assertClean(t, wv)
				return
			}
			assertVerdict(t, rv, engine.ActionBlock, "rename_webshell", 100)
			assertVerdict(t, wv, engine.ActionBlock, "fileUpload_webdav", 100)
		})
	}
}
