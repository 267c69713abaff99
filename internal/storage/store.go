// Package storage persists training runs: run metadata, progress reports,
// the final weight archive and the replay trade report.
package storage

import (
	"context"
	"errors"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// ErrNotInitialized is returned by stores used before Init
var ErrNotInitialized = errors.New("store is not initialized")

// Store is the persistence surface of the training daemon. Getters report
// absence with ok=false rather than an error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, bool, error)
	ListRuns(ctx context.Context) ([]*models.Run, error)
	AppendProgress(ctx context.Context, runID string, point models.ProgressPoint) error
	GetProgress(ctx context.Context, runID string) ([]models.ProgressPoint, error)
	SaveWeights(ctx context.Context, runID string, archive []byte) error
	GetWeights(ctx context.Context, runID string) ([]byte, bool, error)
	SaveTrades(ctx context.Context, runID string, report []byte) error
	GetTrades(ctx context.Context, runID string) ([]byte, bool, error)
	Close() error
}
