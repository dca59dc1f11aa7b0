// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"
	"testing"
)

// allowInsecureFallback permits the plain-memory key path on hosts whose
// mlock limit is below MinMlockLimitKB, so the tests run anywhere.
func allowInsecureFallback(t *testing.T) {
	t.Helper()
	if available, _ := IsMlockAvailable(); !available {
		t.Setenv("DENALI_INSECURE_MEMORY", "true")
	}
}

func TestLoadKey_FromEnv(t *testing.T) {
	allowInsecureFallback(t)
	t.Setenv("DENALI_TEST_API_KEY", "sk-test-12345")

	key, err := LoadKey("DENALI_TEST_API_KEY")
	if err != nil {
		t.Fatalf("LoadKey returned error: %v", err)
	}
	defer key.Destroy()

	var got string
	err = key.Reveal(func(k string) error {
		got = strings.Clone(k)
		return nil
	})
	if err != nil {
		t.Fatalf("Reveal returned error: %v", err)
	}
	if got != "sk-test-12345" {
		t.Errorf("Expected revealed key 'sk-test-12345', got %q", got)
	}
}

func TestLoadKey_EnvValueVerbatim(t *testing.T) {
	allowInsecureFallback(t)
	t.Setenv("DENALI_TEST_API_KEY", "  padded-key \n")

	key, err := LoadKey("DENALI_TEST_API_KEY")
	if err != nil {
		t.Fatalf("LoadKey returned error: %v", err)
	}
	defer key.Destroy()

	key.Reveal(func(k string) error {
		// Environment values are used verbatim; only secret files are trimmed.
		if k != "  padded-key \n" {
			t.Errorf("Unexpected key %q", k)
		}
		return nil
	})
}

func TestLoadKey_Missing(t *testing.T) {
	t.Setenv("DENALI_ABSENT_API_KEY", "")

	if _, err := LoadKey("DENALI_ABSENT_API_KEY"); err == nil {
		t.Fatal("Expected error for missing key")
	}
}

func TestSecureKey_RevealTwice(t *testing.T) {
	allowInsecureFallback(t)
	t.Setenv("DENALI_TEST_API_KEY", "sk-reusable")

	key, err := LoadKey("DENALI_TEST_API_KEY")
	if err != nil {
		t.Fatalf("LoadKey returned error: %v", err)
	}
	defer key.Destroy()

	for i := 0; i < 2; i++ {
		err := key.Reveal(func(k string) error {
			if k != "sk-reusable" {
				t.Errorf("Reveal %d returned %q", i, k)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Reveal %d returned error: %v", i, err)
		}
	}
}

func TestSecureKey_RevealAfterDestroy(t *testing.T) {
	allowInsecureFallback(t)
	t.Setenv("DENALI_TEST_API_KEY", "sk-short-lived")

	key, err := LoadKey("DENALI_TEST_API_KEY")
	if err != nil {
		t.Fatalf("LoadKey returned error: %v", err)
	}

	key.Destroy()
	key.Destroy() // Idempotent.

	err = key.Reveal(func(string) error { return nil })
	if err == nil {
		t.Fatal("Expected error revealing a destroyed key")
	}
}
