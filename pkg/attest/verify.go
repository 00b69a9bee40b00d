package attest

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
)

// VerifyAttestation checks every hashed file and re-derives the claim from
// the step records in runDir.
func VerifyAttestation(att *Attestation, runDir string) error {
	if att == nil {
		return fmt.Errorf("attestation is required")
	}
	if runDir == "" {
		return fmt.Errorf("runDir is required")
	}
	if att.Schema != Schema {
		return fmt.Errorf("unknown attestation schema: %s", att.Schema)
	}

	for rel, expected := range att.Hashes {
		actual, err := hashFile(runDir, rel)
		if err != nil {
			return fmt.Errorf("missing evidence file %s: %w", rel, err)
		}
		if actual != expected {
			return fmt.Errorf("hash mismatch for %s", rel)
		}
	}

	fresh, err := BuildAttestation(runDir)
	if err != nil {
		return fmt.Errorf("rebuild attestation: %w", err)
	}
	if len(fresh.Hashes) != len(att.Hashes) {
		return fmt.Errorf("evidence files added or removed since attestation")
	}
	if fresh.Subject != att.Subject {
		return fmt.Errorf("subject mismatch")
	}
	if !reflect.DeepEqual(fresh.Claim, att.Claim) {
		return fmt.Errorf("claim mismatch")
	}
	return nil
}

// VerifyAttestationFile loads an attestation and verifies it against runDir.
// A signed attestation must also carry a valid signature from keyDir.
func VerifyAttestationFile(attestationPath, runDir, keyDir string) error {
	data, err := os.ReadFile(attestationPath)
	if err != nil {
		return err
	}
	var att Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return err
	}
	if att.Signature != nil {
		if err := VerifySignature(&att, keyDir); err != nil {
			return err
		}
	}
	return VerifyAttestation(&att, runDir)
}
