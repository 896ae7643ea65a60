package standalone

import "fmt"

// Stage identifies one step of the boot sequence.
type Stage string

// Boot stages, in execution order.
const (
	StageDirectoryEnsure   Stage = "directory_ensure"
	StageMetadataBootstrap Stage = "metadata_bootstrap"
	StageStorageBuild      Stage = "storage_build"
	StageCatalogInit       Stage = "catalog_init"
	StageFrontendBuild     Stage = "frontend_build"
	StageServerWiring      Stage = "server_wiring"
	StageStart             Stage = "start"
)

// Stages lists the boot sequence in order.
var Stages = []Stage{
	StageDirectoryEnsure,
	StageMetadataBootstrap,
	StageStorageBuild,
	StageCatalogInit,
	StageFrontendBuild,
	StageServerWiring,
	StageStart,
}

// StageError reports which boot stage failed. Stages after the failed one
// never run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("boot stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
