package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainUpdate = "mudbridge/update/v1"
	DomainWorld  = "mudbridge/world/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// UpdateID computes the content-addressed id of an update. Two writes of the
// same value to the same record still differ by version.
func UpdateID(component, key string, value Object, version int64) (string, error) {
	obj := Object{
		"component": String(component),
		"key":       String(key),
		"value":     value,
		"version":   Int(version),
	}
	if value == nil {
		obj["value"] = Object{}
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("UpdateID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainUpdate, canonical), nil
}

// MustUpdateID is like UpdateID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustUpdateID(component, key string, value Object, version int64) string {
	id, err := UpdateID(component, key, value, version)
	if err != nil {
		panic(err)
	}
	return id
}

// WorldAddress derives a stable 20-byte address for a world config, so a
// local world has the same identity across restarts.
func WorldAddress(cfg WorldConfig) (string, error) {
	tables := make(Array, len(cfg.Tables))
	for i, t := range cfg.Tables {
		tables[i] = String(t.Name)
	}
	obj := Object{
		"namespace": String(cfg.Namespace),
		"tables":    tables,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("WorldAddress: failed to marshal: %w", err)
	}
	return "0x" + hashWithDomain(DomainWorld, canonical)[:40], nil
}
