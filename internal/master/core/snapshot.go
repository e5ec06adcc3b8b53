package core

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// SnapshotVersion is bumped on backward-incompatible changes to the
// persisted schema.
const SnapshotVersion = 1

// JobData is the second of the two blobs persisted per job: everything
// needed to rebuild a tracker besides its descriptor.
type JobData struct {
	Version int            `json:"version"`
	State   JobState       `json:"state"`
	History []AllocateItem `json:"history"`
	Inputs  []InputInfo    `json:"inputs"`
}

// EncodeJobDescriptor serializes and compresses a descriptor blob.
func EncodeJobDescriptor(desc *JobDescriptor) ([]byte, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encode job descriptor: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeJobDescriptor is the inverse of EncodeJobDescriptor.
func DecodeJobDescriptor(blob []byte) (*JobDescriptor, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress job descriptor: %w", err)
	}
	var desc JobDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("decode job descriptor: %w", err)
	}
	return &desc, nil
}

// EncodeJobData serializes and compresses a job data blob.
func EncodeJobData(state JobState, history []AllocateItem, inputs []InputInfo) ([]byte, error) {
	raw, err := json.Marshal(&JobData{
		Version: SnapshotVersion,
		State:   state,
		History: history,
		Inputs:  inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job data: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeJobData is the inverse of EncodeJobData.
func DecodeJobData(blob []byte) (*JobData, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("decompress job data: %w", err)
	}
	var data JobData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if data.Version > SnapshotVersion {
		return nil, fmt.Errorf("unsupported job data version %d", data.Version)
	}
	return &data, nil
}
