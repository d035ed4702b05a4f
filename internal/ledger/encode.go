package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeSubmission serializes a request with fixed field order so the same
// request always produces the same bytes. The checksum field itself is not
// part of the encoding.
func EncodeSubmission(req SubmissionRequest) ([]byte, error) {
	if req.DecisionID == "" {
		return nil, errors.New("decision id is required")
	}
	if len(req.Steps) == 0 {
		return nil, errors.New("steps are required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(5); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("account"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(req.Account); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("decision"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(req.DecisionID); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("agent"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(req.AgentName); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("strategy"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(req.Strategy); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("steps"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(req.Steps)); err != nil {
		return nil, err
	}
	for _, step := range req.Steps {
		if err := encodeStepWire(enc, step); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeStepWire(enc *msgpack.Encoder, step StepWire) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString("ac"); err != nil {
		return err
	}
	if err := enc.EncodeString(step.Action); err != nil {
		return err
	}
	if err := enc.EncodeString("as"); err != nil {
		return err
	}
	if err := enc.EncodeString(step.Asset); err != nil {
		return err
	}
	if err := enc.EncodeString("am"); err != nil {
		return err
	}
	if err := enc.EncodeString(step.Amount); err != nil {
		return err
	}
	if err := enc.EncodeString("pr"); err != nil {
		return err
	}
	return enc.EncodeInt(int64(step.Priority))
}

// SubmissionChecksum is the hex keccak256 of the canonical encoding. The
// ledger recomputes it server side to reject corrupted payloads.
func SubmissionChecksum(req SubmissionRequest) (string, error) {
	encoded, err := EncodeSubmission(req)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.Keccak256(encoded)), nil
}
