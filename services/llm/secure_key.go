// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements secure API key handling. Keys are sealed into
// memguard enclaves so the canonical copy lives in encrypted, mlocked
// memory and is only opened for the duration of a request.
package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	// Key enclaves are small; 64 KB covers the buffer plus guard pages.
	//
	// System must be configured with adequate mlock limits.
	MinMlockLimitKB = 64

	// secretsDir is where container secret files are mounted.
	secretsDir = "/run/secrets"
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate if secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// SecureKey
// =============================================================================

// SecureKey holds one API key in a memguard enclave.
//
// # Description
//
// The key is sealed at load time and only decrypted inside Reveal, which
// hands the callback a view backed by locked memory and wipes it when the
// callback returns. If the system cannot mlock and DENALI_INSECURE_MEMORY=true
// is set, the key falls back to ordinary memory with a warning.
//
// # Thread Safety
//
// Safe for concurrent Reveal calls. Destroy must not race with Reveal.
//
// # Examples
//
//	key, err := LoadKey("OPENAI_API_KEY")
//	if err != nil {
//	    return err
//	}
//	err = key.Reveal(func(k string) error {
//	    return callAPI(k)
//	})
type SecureKey struct {
	enclave *memguard.Enclave

	// plain is only set when running with DENALI_INSECURE_MEMORY=true.
	plain []byte
}

// LoadKey reads the key named by envName and seals it.
//
// # Description
//
// Resolution order is the environment variable first, then the container
// secret file /run/secrets/<lowercase env name>. The raw value is wiped
// from the working buffer once sealed.
//
// # Inputs
//
//   - envName: Environment variable naming the key, e.g. "OPENAI_API_KEY"
//
// # Outputs
//
//   - *SecureKey: Sealed key ready for Reveal
//   - error: Non-nil if the key is missing or secure memory is unavailable
func LoadKey(envName string) (*SecureKey, error) {
	initMemguard()

	raw := os.Getenv(envName)
	source := "environment"
	if raw == "" {
		secretPath := secretsDir + "/" + strings.ToLower(envName)
		content, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("API key not found in environment or secrets",
				"env", envName, "secret_path", secretPath)
			return nil, fmt.Errorf("%s not set and secret %s not found", envName, secretPath)
		}
		raw = strings.TrimSpace(string(content))
		source = "secret_file"
	}
	if raw == "" {
		return nil, fmt.Errorf("%s is empty", envName)
	}

	key, err := sealKey([]byte(raw))
	if err != nil {
		return nil, err
	}
	slog.Info("Sealed API key", "env", envName, "source", source)
	return key, nil
}

// Reveal opens the key for the duration of use and wipes the working copy
// afterwards. The callback must not retain the key string; it is backed by
// locked memory that is zeroed when Reveal returns.
func (k *SecureKey) Reveal(use func(key string) error) error {
	if k.enclave == nil {
		if k.plain == nil {
			return fmt.Errorf("key already destroyed")
		}
		return use(string(k.plain))
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()
	return use(buf.String())
}

// Destroy discards the key material. Safe to call multiple times.
func (k *SecureKey) Destroy() {
	for i := range k.plain {
		k.plain[i] = 0
	}
	k.plain = nil
	k.enclave = nil
}

// sealKey moves raw key bytes into an enclave, or into ordinary memory when
// mlock is unavailable and the operator has acknowledged the risk.
func sealKey(raw []byte) (*SecureKey, error) {
	if !mlockSufficient {
		if os.Getenv("DENALI_INSECURE_MEMORY") != "true" {
			return nil, fmt.Errorf(
				"mlock limit insufficient: have %d KB, need %d KB. "+
					"Raise the limit or set DENALI_INSECURE_MEMORY=true",
				currentMlockLimitKB, MinMlockLimitKB,
			)
		}
		slog.Warn("SECURITY: holding API key in unlocked memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "DENALI_INSECURE_MEMORY=true",
		)
		cp := make([]byte, len(raw))
		copy(cp, raw)
		for i := range raw {
			raw[i] = 0
		}
		return &SecureKey{plain: cp}, nil
	}

	// NewEnclave wipes raw after sealing it.
	return &SecureKey{enclave: memguard.NewEnclave(raw)}, nil
}

// =============================================================================
// Package Initialization Functions
// =============================================================================

// initMemguard initializes the memguard library and checks mlock limits.
//
// # Description
//
// Performs one-time initialization of memguard and validates that the system
// has sufficient mlock limits for secure memory operations. Called
// automatically when the first key is loaded.
//
// # Outputs
//
// None. Sets package-level variables mlockSufficient and currentMlockLimitKB.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit checks if the system has sufficient mlock limits.
//
// # Outputs
//
//   - bool: True if limit is sufficient (>= MinMlockLimitKB)
//   - int64: Current limit in kilobytes (-1 if unlimited)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the current mlock status.
func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv("DENALI_INSECURE_MEMORY") == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", "DENALI_INSECURE_MEMORY=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise RLIMIT_MEMLOCK or set DENALI_INSECURE_MEMORY=true",
		)
	}
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable returns whether secure memory is available on this system.
//
// # Outputs
//
//   - bool: True if secure memory is available
//   - int64: Current mlock limit in KB (-1 if unlimited)
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeSecureMemory wipes all memguard-allocated memory.
//
// # Description
//
// Should be called during graceful shutdown to ensure all key material is
// wiped from memory. This is automatically triggered on SIGINT/SIGTERM
// because initMemguard calls memguard.CatchInterrupt().
//
// # Examples
//
//	defer PurgeSecureMemory()
func PurgeSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
