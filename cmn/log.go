package cmn

import "github.com/golang/glog"

// Log is a thin shim over glog so call sites elsewhere in this module read
// cmn.Log.Infof(...) the way aistore's own packages call glog.Infof directly: the
// indirection exists only so tests can swap in a no-op logger without touching glog's
// process-wide flag state.
var Log Logger = glogLogger{}

type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	V(level glog.Level) bool
}

type glogLogger struct{}

func (glogLogger) Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func (glogLogger) Warningf(format string, args ...interface{}) { glog.Warningf(format, args...) }
func (glogLogger) Errorf(format string, args ...interface{})   { glog.Errorf(format, args...) }
func (glogLogger) V(level glog.Level) bool                     { return bool(glog.V(level)) }
