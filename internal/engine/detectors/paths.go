package detectors

import (
	"regexp"
	"strings"
)

var (
	// Server-side script extensions a webshell is written with.
	scriptFileRegex = regexp.MustCompile(`(?i)\.(aspx?|jspx?|php[345]?|phtml)\.?$`)

	// NTFS alternate data streams (shell.php::$DATA).
	ntfsRegex = regexp.MustCompile(`(?i)::\$(DATA|INDEX)$`)

	// Archives and dumps fetched by forceful browsing.
	dotFilesRegex = regexp.MustCompile(`\.(7z|tar|gz|bz2|xz|rar|zip|sql|db|sqlite)$`)
)

// IsScriptFile reports whether name ends in a server-side script extension.
func IsScriptFile(name string) bool {
	return scriptFileRegex.MatchString(name)
}

// IsNTFSStream reports whether name addresses an NTFS alternate stream.
func IsNTFSStream(name string) bool {
	return ntfsRegex.MatchString(name)
}

// HasTraversal reports whether path climbs with "/../" (or "\..\") at two
// different positions. A single occurrence is ordinary relative navigation.
func HasTraversal(path string) bool {
	for _, sep := range []string{"/../", `\..\`} {
		left := strings.Index(path, sep)
		if left != -1 && left != strings.LastIndex(path, sep) {
			return true
		}
	}
	return false
}

// IsOutsideWebroot reports whether the resolved path left the application
// root through traversal.
func IsOutsideWebroot(appBasePath, realPath, path string) bool {
	return !strings.Contains(realPath, appBasePath) && HasTraversal(path)
}

// IsAbsolutePath reports whether path is absolute on the given OS tag.
// Windows paths are absolute with a drive letter (C:...).
func IsAbsolutePath(path, os string) bool {
	if strings.EqualFold(os, "windows") && len(path) >= 2 && path[1] == ':' {
		drive := path[0] | 0x20
		if drive >= 'a' && drive <= 'z' {
			return true
		}
	}
	return strings.HasPrefix(path, "/")
}

// basename returns the part after the last slash.
func basename(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}
