// Package detectors implements one detector per hooked operation kind.
// Every detector is an ordered rule chain gated by the algorithm matrix.
package detectors

import "github.com/triage-ai/palisade-rasp/internal/engine"

// Register wires the standard detector for every operation kind into eng.
// cache backs the SQL detector and may be nil to disable caching.
func Register(eng *engine.Engine, cache *engine.QueryCache) {
	eng.Register(engine.KindSQL, NewSQLDetector(cache, nil))
	eng.Register(engine.KindSSRF, NewSSRFDetector())
	eng.Register(engine.KindDirectory, NewDirectoryDetector(nil))
	eng.Register(engine.KindReadFile, NewReadFileDetector())
	eng.Register(engine.KindWriteFile, NewWriteFileDetector())
	eng.Register(engine.KindFileUpload, NewFileUploadDetector())
	eng.Register(engine.KindWebdav, NewWebdavDetector())
	eng.Register(engine.KindRename, NewRenameDetector())
	eng.Register(engine.KindInclude, NewIncludeDetector())
	eng.Register(engine.KindCommand, NewCommandDetector(nil))
	eng.Register(engine.KindXXE, NewXXEDetector())
	eng.Register(engine.KindOGNL, NewOGNLDetector())
	eng.Register(engine.KindDeserialization, NewDeserializationDetector())
}
