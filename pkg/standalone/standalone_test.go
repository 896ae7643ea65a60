package standalone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdb/engram/pkg/config"
	"github.com/engramdb/engram/pkg/metastore"
)

func testOptions(t *testing.T) config.MixOptions {
	t.Helper()
	cfg := config.DefaultStandaloneConfig()
	cfg.Storage.DataHome = t.TempDir()
	cfg.MetadataStore.Backend = metastore.BackendMemory
	cfg.WAL.PurgeInterval = time.Hour
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.MySQL.Addr = "127.0.0.1:0"
	cfg.Postgres.Addr = "127.0.0.1:0"
	cfg.OpenTSDB.Addr = "127.0.0.1:0"
	return cfg.MixOptions()
}

// instrument replaces every stage with a recorder around the real run
// function, optionally failing at one stage.
func instrument(o *Orchestrator, failAt Stage, order *[]Stage) {
	for i := range o.boot {
		stage, run := o.boot[i].stage, o.boot[i].run
		o.boot[i].run = func(ctx context.Context) error {
			*order = append(*order, stage)
			if stage == failAt {
				return fmt.Errorf("injected failure at %s", stage)
			}
			return run(ctx)
		}
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	ctx := context.Background()
	o := New(testOptions(t), nil)

	var order []Stage
	instrument(o, "", &order)

	require.NoError(t, o.Run(ctx))
	defer o.Shutdown(context.Background())

	assert.Equal(t, Stages, order)
	require.NotNil(t, o.Frontend())
	require.NotNil(t, o.Datanode())

	// The instance actually serves once Run returns.
	rs, err := o.Frontend().Execute(ctx, "SHOW TABLES")
	require.NoError(t, err)
	assert.Empty(t, rs.Rows)
}

func TestFailureStopsLaterStages(t *testing.T) {
	for i, failAt := range Stages {
		t.Run(string(failAt), func(t *testing.T) {
			o := New(testOptions(t), nil)
			var order []Stage
			instrument(o, failAt, &order)

			err := o.Run(context.Background())
			defer o.Shutdown(context.Background())

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, failAt, stageErr.Stage)

			// Every stage before the failure ran; none after it did.
			assert.Equal(t, Stages[:i+1], order)
		})
	}
}

func TestRunRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(testOptions(t), nil)
	err := o.Run(ctx)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageDirectoryEnsure, stageErr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFullBootServesHTTP(t *testing.T) {
	ctx := context.Background()
	o := New(testOptions(t), nil)
	require.NoError(t, o.Run(ctx))
	defer o.Shutdown(context.Background())

	var addr string
	for _, s := range o.Frontend().Servers() {
		if s.Name() == "http" {
			addr = s.(interface{ Addr() string }).Addr()
		}
	}
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShutdownBeforeRunIsSafe(t *testing.T) {
	o := New(testOptions(t), nil)
	assert.NoError(t, o.Shutdown(context.Background()))
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StageStorageBuild, Err: errors.New("disk full")}
	assert.Equal(t, "boot stage storage_build failed: disk full", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "disk full")
}
