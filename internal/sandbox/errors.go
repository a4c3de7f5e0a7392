package sandbox

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageStaging  Stage = "staging"
	StageHook     Stage = "hook"
	StageAssemble Stage = "assemble"
	StageVerify   Stage = "verify"
	StageSign     Stage = "sign"
	StagePublish  Stage = "publish"
)

var (
	ErrInvalidPlan   = errors.New("invalid build plan")
	ErrPathEscape    = errors.New("path escapes the staging root")
	ErrArtifactExist = errors.New("artifact already exists")
)

// BuildError reports the stage a build failed in. Diagnostics carries
// tool output, e.g. a hook's stderr.
type BuildError struct {
	Stage       Stage
	Package     string
	Diagnostics string
	Err         error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build of %s failed at %s", e.Package, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostics != "" {
		msg += "\n" + e.Diagnostics
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }
