package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, root string, rel string, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestCollectViolations(t *testing.T) {
	root := t.TempDir()
	writeSource(t, root, "contexts/hangout-planning/consensus-engine/domain/services/ok.go", `package services

import "hangout/contexts/hangout-planning/consensus-engine/domain/entities"

var _ entities.Poll
`)
	writeSource(t, root, "contexts/hangout-planning/consensus-engine/application/queries/bad.go", `package queries

import (
	_ "golang.org/x/sync/singleflight"
	_ "hangout/contexts/hangout-planning/consensus-engine/adapters/memory"
	_ "hangout/internal/platform/db"
)
`)

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	violations := collectViolations("contexts")
	rules := map[string]int{}
	for _, v := range violations {
		rules[v.Rule]++
	}
	if rules["application must not import adapters"] != 1 {
		t.Fatalf("expected adapter import flagged, got %+v", violations)
	}
	if rules["application must not import runtime infrastructure"] != 1 {
		t.Fatalf("expected platform import flagged, got %+v", violations)
	}
	for _, v := range violations {
		if v.Import == "golang.org/x/sync/singleflight" {
			t.Fatalf("singleflight must be allowed, got %+v", v)
		}
		if v.File == "contexts/hangout-planning/consensus-engine/domain/services/ok.go" {
			t.Fatalf("domain file must pass, got %+v", v)
		}
	}
}

func TestDirectionRules(t *testing.T) {
	root := t.TempDir()
	service := "contexts/hangout-planning/consensus-engine/"
	prefix := "hangout/contexts/hangout-planning/consensus-engine/"
	writeSource(t, root, service+"domain/services/evaluator.go", `package services

import _ "`+prefix+`ports"
`)
	writeSource(t, root, service+"domain/entities/poll.go", `package entities

import _ "`+prefix+`domain/services"
`)
	writeSource(t, root, service+"application/queries/state.go", `package queries

import _ "`+prefix+`application/commands"
`)
	writeSource(t, root, service+"adapters/postgres/repository.go", `package postgres

import (
	_ "`+prefix+`application/workers"
	_ "`+prefix+`ports"
)
`)
	writeSource(t, root, service+"ports/ports.go", `package ports

import (
	_ "github.com/google/uuid"
	_ "hangout/contracts/gen/events/v1"
	_ "`+prefix+`domain/entities"
)
`)
	writeSource(t, root, service+"adapters/http/handler.go", `package http

import (
	_ "`+prefix+`application/commands"
	_ "`+prefix+`transport/http"
)
`)

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	byFile := map[string][]string{}
	for _, v := range collectViolations("contexts") {
		byFile[v.File] = append(byFile[v.File], v.Rule)
	}

	cases := []struct {
		file string
		rule string
	}{
		{service + "domain/services/evaluator.go", "domain must not import ports or application"},
		{service + "domain/entities/poll.go", "entities must not import domain services"},
		{service + "application/queries/state.go", "queries must not import commands or workers"},
		{service + "adapters/postgres/repository.go", "storage adapters must not import application"},
		{service + "ports/ports.go", "ports import is outside explicit allowlist"},
	}
	for _, tc := range cases {
		if !containsRule(byFile[tc.file], tc.rule) {
			t.Fatalf("expected %q for %s, got %v", tc.rule, tc.file, byFile[tc.file])
		}
	}
	if rules := byFile[service+"ports/ports.go"]; len(rules) != 1 {
		t.Fatalf("expected only the uuid import flagged in ports, got %v", rules)
	}
	if rules := byFile[service+"adapters/postgres/repository.go"]; len(rules) != 1 {
		t.Fatalf("expected ports import allowed in postgres adapter, got %v", rules)
	}
	if rules := byFile[service+"adapters/http/handler.go"]; len(rules) != 0 {
		t.Fatalf("http adapter must pass, got %v", rules)
	}
}

func containsRule(rules []string, want string) bool {
	for _, rule := range rules {
		if rule == want {
			return true
		}
	}
	return false
}
