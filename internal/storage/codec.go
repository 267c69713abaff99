package storage

import (
	"encoding/json"
	"fmt"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// EncodeRun serialises run metadata. Prices are not part of the record.
func EncodeRun(run *models.Run) ([]byte, error) {
	return json.Marshal(run)
}

// DecodeRun restores run metadata written by EncodeRun
func DecodeRun(data []byte) (*models.Run, error) {
	var run models.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	if run.ID == "" {
		return nil, fmt.Errorf("decode run: missing id")
	}
	return &run, nil
}

func cloneRun(run *models.Run) *models.Run {
	cp := *run
	cp.Prices = nil
	if run.Metrics != nil {
		m := *run.Metrics
		cp.Metrics = &m
	}
	return &cp
}
