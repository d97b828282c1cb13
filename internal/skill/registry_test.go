// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

package skill

import "testing"

func TestRegistryLookupAndList(t *testing.T) {
	r := NewRegistry()
	r.Register(echoSkill())

	s, ok := r.Lookup("echo")
	if !ok || s.Name != "echo" {
		t.Fatalf("Lookup = %+v, %v", s, ok)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected Lookup to fail for an unregistered name")
	}

	list := r.List()
	if len(list) != 1 || list[0].Name != "echo" {
		t.Fatalf("List = %+v", list)
	}
}

func TestRegistryRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(echoSkill())
	r.Freeze()

	defer func() {
		if recover() == nil {
			t.Fatal("expected Register after Freeze to panic")
		}
	}()
	r.Register(echoSkill())
}

func TestRegistryFreezeDoesNotAffectLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(echoSkill())
	r.Freeze()

	if _, ok := r.Lookup("echo"); !ok {
		t.Fatal("expected Lookup to keep working after Freeze")
	}
}
