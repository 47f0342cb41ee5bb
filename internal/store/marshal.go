package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/courier/internal/ir"
)

// callbackRecord is the persisted form of ir.Callback.
type callbackRecord struct {
	Destination  string `json:"destination"`
	Encoding     string `json:"encoding"`
	Selector     string `json:"selector"`
	WeightBudget uint64 `json:"weight_budget"`
}

func marshalCallback(cb *ir.Callback) (sql.NullString, error) {
	if cb == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(callbackRecord{
		Destination:  cb.Destination.Hex(),
		Encoding:     cb.Encoding.String(),
		Selector:     cb.Selector.String(),
		WeightBudget: uint64(cb.WeightBudget),
	})
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal callback: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalCallback(s sql.NullString) (*ir.Callback, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var rec callbackRecord
	if err := json.Unmarshal([]byte(s.String), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal callback: %w", err)
	}
	if !common.IsHexAddress(rec.Destination) {
		return nil, fmt.Errorf("unmarshal callback: invalid destination %q", rec.Destination)
	}
	enc, err := ir.ParseEncoding(rec.Encoding)
	if err != nil {
		return nil, fmt.Errorf("unmarshal callback: %w", err)
	}
	sel, err := ir.ParseSelector(rec.Selector)
	if err != nil {
		return nil, fmt.Errorf("unmarshal callback: %w", err)
	}
	return &ir.Callback{
		Destination:  common.HexToAddress(rec.Destination),
		Encoding:     enc,
		Selector:     sel,
		WeightBudget: ir.Weight(rec.WeightBudget),
	}, nil
}

// marshalAttrs stores event attributes as canonical JSON.
func marshalAttrs(attrs map[string]any) (string, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := ir.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs decodes stored attributes.
func unmarshalAttrs(s string) (map[string]any, error) {
	attrs, err := ir.UnmarshalObject([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return attrs, nil
}
